package image

import (
	"encoding/base64"
	"fmt"
)

// Upload describes a raw uploaded image payload before normalization.
type Upload struct {
	Bytes       []byte
	ContentType string
	Filename    string
}

// Normalized is an image payload guaranteed to decode, in a container the
// vision model accepts. It lives for one request and is never persisted.
type Normalized struct {
	Bytes     []byte
	Width     int
	Height    int
	Format    string
	Reencoded bool
}

// Base64 returns the standard-base64 encoding of the normalized bytes.
func (n *Normalized) Base64() string {
	return base64.StdEncoding.EncodeToString(n.Bytes)
}

// Dimensions renders the pixel dimensions as "WxH".
func (n *Normalized) Dimensions() string {
	return fmt.Sprintf("%dx%d", n.Width, n.Height)
}
