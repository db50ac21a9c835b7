package image

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"boxcount-server-go/internal/platform/config"
	"boxcount-server-go/internal/platform/errors"
	"boxcount-server-go/internal/platform/logging"
)

const (
	uploadJPEGQuality = 95
	base64JPEGQuality = 85
)

// allowedExtensions is the fallback check when the declared content type is
// missing or unrecognized.
var allowedExtensions = []string{
	".jpg", ".jpeg", ".png", ".webp", ".gif", ".avif", ".heic", ".heif",
}

// passthroughContainers are containers forwarded unchanged when the pixel
// layout is already RGB-family. Everything else re-encodes to JPEG.
var passthroughContainers = map[string]bool{
	"jpeg": true,
	"png":  true,
	"webp": true,
}

// Normalizer validates uploaded images and converts them into a canonical
// form the vision model accepts. It performs no disk writes.
type Normalizer struct {
	cfg    *config.UploadConfig
	logger *logging.Logger
}

// NewNormalizer constructs a normalizer bounded by the upload config.
func NewNormalizer(cfg *config.UploadConfig, logger *logging.Logger) (*Normalizer, error) {
	if cfg == nil {
		return nil, errors.New(errors.KindConfig, "image.new", "upload config is required")
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}

	return &Normalizer{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Normalize validates the upload and returns a payload guaranteed to decode.
// GIFs, uncommon containers and non-RGB pixel layouts are re-encoded to JPEG;
// everything else passes through byte-identical.
func (n *Normalizer) Normalize(ctx context.Context, up Upload) (*Normalized, error) {
	if !n.isAllowedType(up.ContentType, up.Filename) {
		n.logger.WarnTag("IMAGE", "file validation failed: %s, content_type: %s", up.Filename, up.ContentType)
		return nil, errors.New(errors.KindInvalidFormat, "image.normalize",
			fmt.Sprintf("Invalid file type. Supported: JPEG, PNG, WebP, GIF. Got: %s", up.ContentType))
	}

	if int64(len(up.Bytes)) > n.cfg.MaxFileSize {
		return nil, errors.New(errors.KindPayloadTooLarge, "image.normalize",
			"File too large. Maximum size: 20MB")
	}

	if err := n.guardDimensions(up.Bytes); err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(up.Bytes))
	if err != nil {
		return nil, decodeError("image.normalize", err)
	}

	bounds := img.Bounds()
	out := &Normalized{
		Bytes:  up.Bytes,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: format,
	}

	if needsReencode(format, img) {
		n.logger.InfoTag("IMAGE", "converting image from %s/%T to JPEG", format, img)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: uploadJPEGQuality}); err != nil {
			return nil, errors.Wrap(errors.KindInternal, "image.normalize", "failed to re-encode image", err)
		}

		out.Bytes = buf.Bytes()
		out.Format = "jpeg"
		out.Reencoded = true
		n.logger.InfoTag("IMAGE", "converted image size: %d bytes", len(out.Bytes))
	}

	n.logger.InfoTag("IMAGE", "image validated: format=%s, size=%s", out.Format, out.Dimensions())
	return out, nil
}

// NormalizeBase64 handles the base64 request path: data-URL prefixes are
// stripped, alpha channels are flattened onto a white background and the
// result is always re-encoded to JPEG. The size ceiling applies to the
// re-encoded bytes. No content-type allow-list applies here.
func (n *Normalizer) NormalizeBase64(ctx context.Context, payload string) (*Normalized, error) {
	data := payload
	if strings.HasPrefix(data, "data:") {
		idx := strings.Index(data, ",")
		if idx < 0 {
			return nil, errors.New(errors.KindInvalidBase64, "image.normalize_base64",
				"Invalid base64 image data: data URL is missing its payload")
		}
		data = data[idx+1:]
	}

	raw, err := decodeBase64(data)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidBase64, "image.normalize_base64",
			fmt.Sprintf("Invalid base64 image data: %v", err), err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(errors.KindCorruptImage, "image.normalize_base64",
			fmt.Sprintf("Invalid image format: %v", err), err)
	}

	flattened := flattenOntoWhite(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flattened, &jpeg.Options{Quality: base64JPEGQuality}); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "image.normalize_base64", "failed to re-encode image", err)
	}

	if int64(buf.Len()) > n.cfg.MaxFileSize {
		return nil, errors.New(errors.KindPayloadTooLarge, "image.normalize_base64",
			"Image too large. Maximum size is 20MB.")
	}

	bounds := img.Bounds()
	out := &Normalized{
		Bytes:     buf.Bytes(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Format:    "jpeg",
		Reencoded: true,
	}

	n.logger.InfoTag("IMAGE", "processing base64 image: %d bytes", len(out.Bytes))
	return out, nil
}

func (n *Normalizer) isAllowedType(contentType, filename string) bool {
	allowed := n.cfg.AllowedFormats
	if len(allowed) == 0 {
		allowed = config.DefaultConfig().Upload.AllowedFormats
	}

	if contentType != "" {
		ct := strings.ToLower(strings.TrimSpace(contentType))
		for _, a := range allowed {
			if ct == strings.ToLower(a) {
				return true
			}
		}
	}

	if filename != "" {
		ext := strings.ToLower(filepath.Ext(filename))
		for _, a := range allowedExtensions {
			if ext == a {
				return true
			}
		}
	}

	return false
}

// guardDimensions rejects decode bombs before the full pixel decode runs.
func (n *Normalizer) guardDimensions(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return decodeError("image.normalize", err)
	}

	if n.cfg.MaxWidth > 0 && cfg.Width > n.cfg.MaxWidth ||
		n.cfg.MaxHeight > 0 && cfg.Height > n.cfg.MaxHeight {
		return errors.New(errors.KindCorruptImage, "image.normalize",
			fmt.Sprintf("Image dimensions exceed limit: %dx%d (max %dx%d)",
				cfg.Width, cfg.Height, n.cfg.MaxWidth, n.cfg.MaxHeight))
	}

	totalPixels := int64(cfg.Width) * int64(cfg.Height)
	if n.cfg.MaxPixels > 0 && totalPixels > n.cfg.MaxPixels {
		return errors.New(errors.KindCorruptImage, "image.normalize",
			fmt.Sprintf("Image pixel count exceeds limit: %d (max %d)", totalPixels, n.cfg.MaxPixels))
	}

	return nil
}

func decodeError(op string, err error) error {
	if stderrors.Is(err, image.ErrFormat) {
		return errors.Wrap(errors.KindCorruptImage, op,
			"Unsupported image format. Please use JPEG, PNG, WebP, or GIF. Detected file type may not be supported.", err)
	}
	return errors.Wrap(errors.KindCorruptImage, op,
		fmt.Sprintf("Invalid or corrupted image file: %v", err), err)
}

func needsReencode(format string, img image.Image) bool {
	if !passthroughContainers[format] {
		return true
	}

	switch img.(type) {
	case *image.YCbCr, *image.NYCbCrA, *image.RGBA, *image.NRGBA:
		return false
	default:
		return true
	}
}
