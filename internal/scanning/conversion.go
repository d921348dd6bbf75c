package scanning

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// DecodeRaster builds a raster from an uploaded image or PDF. PDFs are
// rendered from their first page.
func DecodeRaster(data []byte, contentType string) (image.Image, error) {
	const op = "DecodeRaster"

	if len(data) == 0 {
		return nil, NewError(op, ErrDecode, nil, "empty image")
	}

	mimeType := normalizeMimeType(contentType)

	var (
		img image.Image
		err error
	)
	switch {
	case mimeType == "application/pdf" || isPDFFormat(data):
		img, err = pdfToImage(data)
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		// Go's standard image package doesn't support HEIC
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, NewError(op, ErrDecode, err, "unsupported image format. Supported formats: JPEG, PNG, GIF, WebP, BMP, TIFF, HEIC, HEIF, PDF")
			}
			err = fmt.Errorf("decoding image: %w", err)
		}
	}
	if err != nil {
		return nil, NewError(op, ErrDecode, err, "cannot decode image")
	}
	if img.Bounds().Empty() {
		return nil, NewError(op, ErrDecode, nil, "image has no pixels")
	}
	return img, nil
}

// pdfToImage renders the first page of a PDF (most scans are single page)
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// EncodePNG encodes a raster as PNG for engines that take encoded bytes
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop returns the part of img inside rect. An empty rect keeps the whole
// image.
func Crop(img image.Image, rect image.Rectangle) (image.Image, error) {
	if rect.Empty() {
		return img, nil
	}
	r := rect.Intersect(img.Bounds())
	if r.Empty() {
		return nil, NewError("Crop", ErrDecode, nil, "crop region outside image bounds")
	}
	if sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(r), nil
	}
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, nil
}

// Desaturate writes each pixel's luminance through all three color channels,
// keeping alpha. The weights match a zero-saturation color matrix.
func Desaturate(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			l := 0.213*float64(c.R) + 0.715*float64(c.G) + 0.072*float64(c.B)
			if l > 255 {
				l = 255
			}
			v := uint8(l + 0.5)
			dst.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: c.A})
		}
	}
	return dst
}

func normalizeMimeType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

// isPDFFormat checks for the PDF header
func isPDFFormat(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "%PDF"
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// ftyp box at offset 4 with a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return mimeType == "image/heic" || mimeType == "image/heif" ||
		strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
