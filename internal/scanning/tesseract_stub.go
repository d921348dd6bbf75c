//go:build !tesseract

package scanning

import (
	"errors"
	"image"
)

// TesseractEnabled reports whether the Tesseract engine was compiled in
const TesseractEnabled = false

// ErrTesseractNotEnabled is returned by the stub engine. Rebuild with
// -tags tesseract (requires libtesseract) to enable math recognition.
var ErrTesseractNotEnabled = errors.New("tesseract support not enabled; rebuild with -tags tesseract")

type tesseractStub struct{}

// NewTesseract returns an engine whose Init always fails, so math mode
// degrades to text recognition.
func NewTesseract() FormulaEngine {
	return tesseractStub{}
}

func (tesseractStub) Init(string, string) error                  { return ErrTesseractNotEnabled }
func (tesseractStub) SetSegmentationMode(SegmentationMode) error { return ErrTesseractNotEnabled }
func (tesseractStub) SetImage(image.Image) error                 { return ErrTesseractNotEnabled }
func (tesseractStub) Text() (string, error)                      { return "", ErrTesseractNotEnabled }
func (tesseractStub) SetDiagnosticSink(string) error             { return nil }
func (tesseractStub) Release() error                             { return nil }
