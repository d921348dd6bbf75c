package pipeline

import (
	"context"
	"image"

	"github.com/zombor/ocr-scanner/internal/receipt"
	"github.com/zombor/ocr-scanner/internal/scanning"
)

// Capture is an acquired raster waiting for crop confirmation
type Capture struct {
	Image image.Image
	// Ref identifies the originating image for the sink (a stored path)
	Ref string
	// Label is the merchant label attached to receipt results
	Label string
}

// Source delivers a decoded raster
type Source interface {
	Acquire(ctx context.Context) (*Capture, error)
}

// SourceFunc adapts a function to the Source interface
type SourceFunc func(ctx context.Context) (*Capture, error)

// Acquire calls f(ctx)
func (f SourceFunc) Acquire(ctx context.Context) (*Capture, error) {
	return f(ctx)
}

// BytesSource decodes an uploaded or on-disk file
type BytesSource struct {
	Data        []byte
	ContentType string
	Ref         string
	Label       string
}

// Acquire decodes the bytes; failures wrap scanning.ErrDecode
func (s BytesSource) Acquire(ctx context.Context) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := scanning.DecodeRaster(s.Data, s.ContentType)
	if err != nil {
		return nil, err
	}
	return &Capture{Image: img, Ref: s.Ref, Label: s.Label}, nil
}

// TextRecord is what Text and Math scans hand to the sink
type TextRecord struct {
	Mode     Mode
	Text     string
	ImageRef string
}

// ReceiptRecord is what Receipt scans hand to the sink
type ReceiptRecord struct {
	Rows     []receipt.Row
	ImageRef string
	Merchant string
}

// Sink persists scan results and returns the stored record's ID
type Sink interface {
	SaveText(ctx context.Context, rec TextRecord) (string, error)
	SaveReceipt(ctx context.Context, rec ReceiptRecord) (string, error)
}

// Result is the structured output of one recognition
type Result struct {
	// Mode is the pipeline that produced the output. A Math scan that fell
	// back to text recognition reports ModeText.
	Mode     Mode          `json:"mode"`
	Text     string        `json:"text,omitempty"`
	Rows     []receipt.Row `json:"rows,omitempty"`
	ImageRef string        `json:"image_ref,omitempty"`
	Label    string        `json:"label,omitempty"`
	RecordID string        `json:"record_id,omitempty"`
}
