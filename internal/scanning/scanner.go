package scanning

import (
	"context"
	"image"

	"github.com/zombor/ocr-scanner/internal/receipt"
)

// Line is one recognized line with its element-level tokens
type Line struct {
	Text     string          `json:"text"`
	Elements []receipt.Token `json:"elements"`
}

// Block groups lines the engine judged to belong together
type Block struct {
	Text  string `json:"text"`
	Lines []Line `json:"lines"`
}

// Recognition is the output of a primary engine: the plain text plus the
// block/line/element hierarchy with bounding boxes
type Recognition struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

// Tokens flattens the hierarchy into element tokens in the engine's native
// traversal order. That order is not reading order.
func (r *Recognition) Tokens() []receipt.Token {
	if r == nil {
		return nil
	}
	tokens := make([]receipt.Token, 0)
	for _, b := range r.Blocks {
		for _, l := range b.Lines {
			tokens = append(tokens, l.Elements...)
		}
	}
	return tokens
}

// Recognizer defines the primary, always-available recognition engine
type Recognizer interface {
	// Recognize runs text recognition on a decoded raster
	Recognize(ctx context.Context, img image.Image) (*Recognition, error)
	// Close closes the engine and releases resources
	Close() error
}
