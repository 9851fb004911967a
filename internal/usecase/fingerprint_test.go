package usecase

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestNormalizeBarcode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain digits", "0123456789012", "0123456789012"},
		{"whitespace trimmed", "  4006381333931 ", "4006381333931"},
		{"hyphenated EAN", "4-006381-333931", "4006381333931"},
		{"scanner prefix", "EAN:4006381333931", "4006381333931"},
		{"no digits", "not-a-barcode", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeBarcode(tt.input); got != tt.want {
				t.Errorf("NormalizeBarcode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func testImage(seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x)*16 + seed, G: uint8(y) * 16, B: seed, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image, level png.CompressionLevel) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestImageFingerprint_IgnoresEncodingWrapper(t *testing.T) {
	img := testImage(1)

	fast := encodePNG(t, img, png.BestSpeed)
	small := encodePNG(t, img, png.BestCompression)
	if bytes.Equal(fast, small) {
		t.Fatal("expected the two encodings to produce different bytes")
	}

	if got, want := ImageFingerprint(fast), ImageFingerprint(small); got != want {
		t.Errorf("fingerprints differ for identical pixels: %s vs %s", got, want)
	}
}

func TestImageFingerprint_DistinguishesPixels(t *testing.T) {
	a := ImageFingerprint(encodePNG(t, testImage(1), png.DefaultCompression))
	b := ImageFingerprint(encodePNG(t, testImage(2), png.DefaultCompression))
	if a == b {
		t.Error("different images produced the same fingerprint")
	}
}

func TestImageFingerprint_RawFallback(t *testing.T) {
	blob := []byte("not an image at all")

	first := ImageFingerprint(blob)
	second := ImageFingerprint(blob)
	if first != second {
		t.Errorf("fallback fingerprint is not deterministic: %s vs %s", first, second)
	}
	if first == ImageFingerprint([]byte("different blob")) {
		t.Error("fallback fingerprint collides for different payloads")
	}
}
