package usecase

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	"regexp"
	"strings"

	// Registered so image.Decode handles the formats cameras actually send.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// NormalizeBarcode strips everything but digits so the same physical barcode
// always maps to the same cache key regardless of scanner formatting.
func NormalizeBarcode(barcode string) string {
	return nonDigitRegex.ReplaceAllString(strings.TrimSpace(barcode), "")
}

// ImageFingerprint hashes the decoded pixel data of an image, so two uploads
// of the same picture hash identically even when the encoding wrapper
// (progressive vs. baseline JPEG, PNG chunk order) differs. Undecodable
// payloads fall back to hashing the raw bytes.
func ImageFingerprint(data []byte) string {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		sum := sha256.Sum256(data)
		return fmt.Sprintf("%x", sum)
	}

	bounds := img.Bounds()
	nrgba := image.NewNRGBA(bounds)
	draw.Draw(nrgba, bounds, img, bounds.Min, draw.Src)

	h := sha256.New()
	var dims [16]byte
	binary.BigEndian.PutUint64(dims[0:8], uint64(bounds.Dx()))
	binary.BigEndian.PutUint64(dims[8:16], uint64(bounds.Dy()))
	h.Write(dims[:])
	h.Write(nrgba.Pix)
	return fmt.Sprintf("%x", h.Sum(nil))
}
