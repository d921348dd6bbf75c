package pipeline

import (
	"context"
	"image"
	"strings"
	"unicode"

	"github.com/zombor/ocr-scanner/internal/receipt"
	"github.com/zombor/ocr-scanner/internal/scanning"
)

// runText recognizes img with the primary engine
func (c *Coordinator) runText(ctx context.Context, img image.Image) (*Result, error) {
	const op = "RecognizeText"

	rec, err := c.primary.Recognize(ctx, img)
	if err != nil {
		return nil, scanning.NewError(op, scanning.ErrRecognition, err, "text recognition failed")
	}
	text := strings.TrimSpace(rec.Text)
	if text == "" {
		return nil, scanning.NewError(op, scanning.ErrEmptyResult, nil, "no text found")
	}
	return &Result{Mode: ModeText, Text: text}, nil
}

// runMath recognizes a single-line expression with the math engine. Any
// shortfall of the math engine falls back to text recognition of the
// original raster.
func (c *Coordinator) runMath(ctx context.Context, img image.Image) (*Result, error) {
	gray := scanning.Desaturate(img)

	state, err := c.math.Await(ctx)
	if state != scanning.EngineReady {
		c.logger.Info("Math engine not ready, using text recognition", "state", state, "error", err)
		return c.runText(ctx, img)
	}

	raw, err := c.math.RecognizeLine(ctx, gray)
	if err != nil {
		c.logger.Warn("Math recognition failed, using text recognition", "error", err)
		return c.runText(ctx, img)
	}
	if raw == "" {
		c.logger.Debug("Math engine returned nothing, using text recognition")
		return c.runText(ctx, img)
	}
	return &Result{Mode: ModeMath, Text: FormatMath(raw)}, nil
}

var mathReplacer = strings.NewReplacer(
	"—", "-",
	"–", "-",
	"x", "×",
	"X", "×",
)

// FormatMath strips all whitespace and canonicalizes dashes and the
// multiplication sign
func FormatMath(raw string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	return mathReplacer.Replace(stripped)
}

// runReceipt reconstructs item/price rows from the positioned tokens. When
// the engine reports text without positions the plain-text parser is used.
func (c *Coordinator) runReceipt(ctx context.Context, img image.Image) (*Result, error) {
	const op = "RecognizeReceipt"

	rec, err := c.primary.Recognize(ctx, img)
	if err != nil {
		return nil, scanning.NewError(op, scanning.ErrRecognition, err, "receipt recognition failed")
	}

	tokens := rec.Tokens()
	var rows []receipt.Row
	if len(tokens) > 0 {
		rows = receipt.Reconstruct(tokens)
	} else if strings.TrimSpace(rec.Text) != "" {
		c.logger.Debug("No positioned tokens, parsing receipt text")
		rows = receipt.ParseText(rec.Text)
	}
	if len(rows) == 0 {
		return nil, scanning.NewError(op, scanning.ErrEmptyResult, nil, "no price column found")
	}

	c.logger.Info("Receipt reconstructed", "tokens", len(tokens), "rows", len(rows))
	return &Result{Mode: ModeReceipt, Text: rec.Text, Rows: rows}, nil
}
