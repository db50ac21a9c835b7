package counting

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	domainimage "boxcount-server-go/internal/domain/image"
	"boxcount-server-go/internal/domain/prompt"
	"boxcount-server-go/internal/platform/config"
	"boxcount-server-go/internal/platform/errors"
	platformtesting "boxcount-server-go/internal/platform/testing"
	httptransport "boxcount-server-go/internal/transport/http"
)

// stubAnalyzer returns a canned reply or error and records what it was sent.
type stubAnalyzer struct {
	reply  string
	err    error
	prompt string
	image  string
}

func (s *stubAnalyzer) Analyze(_ context.Context, imageBase64, promptText string) (string, error) {
	s.image = imageBase64
	s.prompt = promptText
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func newTestEngine(t *testing.T, analyzer Analyzer, mutate func(*config.Config)) *gin.Engine {
	t.Helper()

	cfg := platformtesting.SetupTestConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	logger := platformtesting.SetupTestLogger(t)

	normalizer, err := domainimage.NewNormalizer(&cfg.Upload, logger)
	platformtesting.AssertNoError(t, err)

	prompts := prompt.NewSource(platformtesting.WriteTempPrompt(t, "Count the boxes."), logger)

	svc, err := NewService(normalizer, prompts, analyzer, logger)
	platformtesting.AssertNoError(t, err)

	router, err := httptransport.Build(httptransport.Options{Config: cfg, Logger: logger})
	platformtesting.AssertNoError(t, err)

	svc.Register(router.Root, router.Secured)
	return router.Engine
}

func jpegBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 120, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func pngWithAlphaBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: 10, G: 200, B: 50, A: 128})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write multipart data: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func doRequest(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	engine := newTestEngine(t, &stubAnalyzer{}, nil)

	recorder := doRequest(engine, httptest.NewRequest(http.MethodGet, "/health", nil))
	platformtesting.AssertEqual(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	platformtesting.AssertEqual(t, "healthy", body["status"])
	platformtesting.AssertEqual(t, "box-counting-ai", body["service"])
}

func TestIndex(t *testing.T) {
	engine := newTestEngine(t, &stubAnalyzer{}, nil)

	recorder := doRequest(engine, httptest.NewRequest(http.MethodGet, "/", nil))
	platformtesting.AssertEqual(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	platformtesting.AssertEqual(t, "Vision AI Box Counting API", body["message"])
	platformtesting.AssertEqual(t, Version, body["version"])

	endpoints, ok := body["endpoints"].(map[string]any)
	if !ok {
		t.Fatalf("expected endpoints map, got %T", body["endpoints"])
	}
	for _, path := range []string{"/count-boxes", "/count-boxes-simple", "/count-boxes-base64", "/health"} {
		if _, present := endpoints[path]; !present {
			t.Errorf("missing endpoint description for %s", path)
		}
	}
}

func TestCountBoxes_Success(t *testing.T) {
	analyzer := &stubAnalyzer{
		reply: "Here you go:\n```json\n[{\"label\": \"FRAGILE\", \"quantity\": 2}]\n```",
	}
	engine := newTestEngine(t, analyzer, nil)

	data := jpegBytes(t, 12, 9)
	body, contentType := multipartUpload(t, "boxes.jpg", "image/jpeg", data)

	req := httptest.NewRequest(http.MethodPost, "/count-boxes", body)
	req.Header.Set("Content-Type", contentType)

	recorder := doRequest(engine, req)
	platformtesting.AssertEqual(t, http.StatusOK, recorder.Code)

	response := decodeBody(t, recorder)
	platformtesting.AssertEqual(t, "boxes.jpg", response["filename"])
	platformtesting.AssertEqual(t, "success", response["status"])
	// JPEG uploads pass through untouched, so the reported size is the
	// original byte count.
	platformtesting.AssertEqual(t, float64(len(data)), response["file_size_bytes"])

	boxes, ok := response["detected_boxes"].([]any)
	if !ok || len(boxes) != 1 {
		t.Fatalf("expected one detected box, got %v", response["detected_boxes"])
	}

	platformtesting.AssertEqual(t, "Count the boxes.", analyzer.prompt)
	if analyzer.image != base64.StdEncoding.EncodeToString(data) {
		t.Error("analyzer received different bytes than were uploaded")
	}
}

func TestCountBoxes_InvalidType(t *testing.T) {
	engine := newTestEngine(t, &stubAnalyzer{}, nil)

	body, contentType := multipartUpload(t, "notes.txt", "text/plain", []byte("not an image"))
	req := httptest.NewRequest(http.MethodPost, "/count-boxes", body)
	req.Header.Set("Content-Type", contentType)

	recorder := doRequest(engine, req)
	platformtesting.AssertEqual(t, http.StatusBadRequest, recorder.Code)

	detail, _ := decodeBody(t, recorder)["detail"].(string)
	if !strings.HasPrefix(detail, "Invalid file type.") {
		t.Errorf("unexpected detail %q", detail)
	}
}

func TestCountBoxes_TooLargeIsBadRequest(t *testing.T) {
	engine := newTestEngine(t, &stubAnalyzer{}, func(cfg *config.Config) {
		cfg.Upload.MaxFileSize = 16
	})

	body, contentType := multipartUpload(t, "big.jpg", "image/jpeg", jpegBytes(t, 16, 16))
	req := httptest.NewRequest(http.MethodPost, "/count-boxes", body)
	req.Header.Set("Content-Type", contentType)

	recorder := doRequest(engine, req)
	// The upload path reports oversized files as 400, unlike the base64 path.
	platformtesting.AssertEqual(t, http.StatusBadRequest, recorder.Code)
}

func TestCountBoxes_MissingFile(t *testing.T) {
	engine := newTestEngine(t, &stubAnalyzer{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/count-boxes", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=empty")

	recorder := doRequest(engine, req)
	platformtesting.AssertEqual(t, http.StatusBadRequest, recorder.Code)
}

func TestCountBoxes_UpstreamFailure(t *testing.T) {
	analyzer := &stubAnalyzer{
		err: errors.New(errors.KindUpstream, "gateway.analyze", "AI analysis failed: model offline"),
	}
	engine := newTestEngine(t, analyzer, nil)

	body, contentType := multipartUpload(t, "boxes.jpg", "image/jpeg", jpegBytes(t, 8, 8))
	req := httptest.NewRequest(http.MethodPost, "/count-boxes", body)
	req.Header.Set("Content-Type", contentType)

	recorder := doRequest(engine, req)
	platformtesting.AssertEqual(t, http.StatusInternalServerError, recorder.Code)
	platformtesting.AssertEqual(t, "AI analysis failed: model offline", decodeBody(t, recorder)["detail"])
}

func TestCountBoxesSimple_Aggregates(t *testing.T) {
	analyzer := &stubAnalyzer{
		reply: `[{"label": "ACME", "quantity": 2}, {"label": "unidentified", "quantity": 3}, {"label": "ACME", "quantity": 1}]`,
	}
	engine := newTestEngine(t, analyzer, nil)

	body, contentType := multipartUpload(t, "boxes.jpg", "image/jpeg", jpegBytes(t, 8, 8))
	req := httptest.NewRequest(http.MethodPost, "/count-boxes-simple", body)
	req.Header.Set("Content-Type", contentType)

	recorder := doRequest(engine, req)
	platformtesting.AssertEqual(t, http.StatusOK, recorder.Code)

	response := decodeBody(t, recorder)
	platformtesting.AssertEqual(t, float64(6), response["count"])

	labels, ok := response["labels"].([]any)
	if !ok || len(labels) != 1 || labels[0] != "ACME" {
		t.Errorf("expected labels [ACME], got %v", response["labels"])
	}
	if _, present := response["detected_boxes"]; !present {
		t.Error("simple response must still carry detected_boxes")
	}
}

func TestCountBoxesSimple_RawDegradation(t *testing.T) {
	analyzer := &stubAnalyzer{reply: "I see roughly ten boxes but cannot give JSON."}
	engine := newTestEngine(t, analyzer, nil)

	body, contentType := multipartUpload(t, "boxes.jpg", "image/jpeg", jpegBytes(t, 8, 8))
	req := httptest.NewRequest(http.MethodPost, "/count-boxes-simple", body)
	req.Header.Set("Content-Type", contentType)

	recorder := doRequest(engine, req)
	platformtesting.AssertEqual(t, http.StatusOK, recorder.Code)

	response := decodeBody(t, recorder)
	platformtesting.AssertEqual(t, "I see roughly ten boxes but cannot give JSON.", response["raw_output"])
	if _, present := response["count"]; present {
		t.Error("raw degradation must not include a count")
	}
}

func TestCountBoxesBase64_Success(t *testing.T) {
	analyzer := &stubAnalyzer{reply: `{"total_count": 4}`}
	engine := newTestEngine(t, analyzer, nil)

	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngWithAlphaBytes(t))
	body, _ := json.Marshal(Base64Request{Image: payload})

	req := httptest.NewRequest(http.MethodPost, "/count-boxes-base64", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	recorder := doRequest(engine, req)
	platformtesting.AssertEqual(t, http.StatusOK, recorder.Code)

	response := decodeBody(t, recorder)
	info, ok := response["image_info"].(map[string]any)
	if !ok {
		t.Fatalf("expected image_info, got %v", response)
	}
	platformtesting.AssertEqual(t, "JPEG", info["format"])
	platformtesting.AssertEqual(t, "8x8", info["dimensions"])
	if info["size_bytes"].(float64) <= 0 {
		t.Errorf("expected positive size_bytes, got %v", info["size_bytes"])
	}

	boxes, ok := response["detected_boxes"].(map[string]any)
	if !ok || boxes["total_count"] != float64(4) {
		t.Errorf("expected object payload with total_count 4, got %v", response["detected_boxes"])
	}
}

func TestCountBoxesBase64_InvalidBase64(t *testing.T) {
	engine := newTestEngine(t, &stubAnalyzer{}, nil)

	body, _ := json.Marshal(Base64Request{Image: "%%%not-base64%%%"})
	req := httptest.NewRequest(http.MethodPost, "/count-boxes-base64", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	recorder := doRequest(engine, req)
	platformtesting.AssertEqual(t, http.StatusBadRequest, recorder.Code)
}

func TestCountBoxesBase64_MissingImageField(t *testing.T) {
	engine := newTestEngine(t, &stubAnalyzer{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/count-boxes-base64", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	recorder := doRequest(engine, req)
	platformtesting.AssertEqual(t, http.StatusBadRequest, recorder.Code)
	platformtesting.AssertEqual(t, "image field is required", decodeBody(t, recorder)["detail"])
}

func TestAuth(t *testing.T) {
	analyzer := &stubAnalyzer{reply: `[]`}
	engine := newTestEngine(t, analyzer, func(cfg *config.Config) {
		cfg.Server.AuthToken = "secret"
	})

	t.Run("missing token rejected", func(t *testing.T) {
		body, contentType := multipartUpload(t, "boxes.jpg", "image/jpeg", jpegBytes(t, 8, 8))
		req := httptest.NewRequest(http.MethodPost, "/count-boxes", body)
		req.Header.Set("Content-Type", contentType)

		recorder := doRequest(engine, req)
		platformtesting.AssertEqual(t, http.StatusUnauthorized, recorder.Code)
		platformtesting.AssertEqual(t, "Invalid or missing API key", decodeBody(t, recorder)["detail"])
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		body, contentType := multipartUpload(t, "boxes.jpg", "image/jpeg", jpegBytes(t, 8, 8))
		req := httptest.NewRequest(http.MethodPost, "/count-boxes", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer wrong")

		recorder := doRequest(engine, req)
		platformtesting.AssertEqual(t, http.StatusUnauthorized, recorder.Code)
	})

	t.Run("valid token accepted", func(t *testing.T) {
		body, contentType := multipartUpload(t, "boxes.jpg", "image/jpeg", jpegBytes(t, 8, 8))
		req := httptest.NewRequest(http.MethodPost, "/count-boxes", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer secret")

		recorder := doRequest(engine, req)
		platformtesting.AssertEqual(t, http.StatusOK, recorder.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		recorder := doRequest(engine, httptest.NewRequest(http.MethodGet, "/health", nil))
		platformtesting.AssertEqual(t, http.StatusOK, recorder.Code)
	})
}
