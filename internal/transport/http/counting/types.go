package counting

// Version reported by the index endpoint.
const Version = "1.0.0"

// IndexResponse describes the API surface for clients hitting the root path.
type IndexResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// HealthResponse is the liveness payload. It never reflects gateway state.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// CountResponse is the full analysis payload for an uploaded file.
type CountResponse struct {
	Filename      string `json:"filename"`
	FileSizeBytes int    `json:"file_size_bytes"`
	DetectedBoxes any    `json:"detected_boxes"`
	Status        string `json:"status"`
}

// SimpleResponse condenses the analysis into a count plus unique labels.
type SimpleResponse struct {
	Count         float64  `json:"count"`
	Labels        []string `json:"labels"`
	DetectedBoxes any      `json:"detected_boxes"`
}

// RawResponse is the degraded simple-endpoint payload when the model reply
// held no parseable JSON.
type RawResponse struct {
	RawOutput string `json:"raw_output"`
}

// Base64Request carries an image as a base64 string, optionally wrapped in a
// data URL.
type Base64Request struct {
	Image string `json:"image" binding:"required"`
}

// ImageInfo describes the normalized image sent to the model.
type ImageInfo struct {
	SizeBytes  int    `json:"size_bytes"`
	Format     string `json:"format"`
	Dimensions string `json:"dimensions"`
}

// Base64Response is the analysis payload for the base64 endpoint.
type Base64Response struct {
	DetectedBoxes any       `json:"detected_boxes"`
	ImageInfo     ImageInfo `json:"image_info"`
}
