//go:build tesseract

package scanning

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEnabled reports whether the Tesseract engine was compiled in
const TesseractEnabled = true

// Tesseract implements FormulaEngine using the gosseract client.
// Requires libtesseract; build with -tags tesseract.
type Tesseract struct {
	client *gosseract.Client
}

// NewTesseract constructs a Tesseract-backed math engine
func NewTesseract() FormulaEngine {
	return &Tesseract{client: gosseract.NewClient()}
}

// Init points the client at dataDir and loads model. gosseract loads models
// lazily, so a blank image is recognized to surface load failures here.
func (t *Tesseract) Init(dataDir, model string) error {
	if _, err := os.Stat(filepath.Join(dataDir, model+".traineddata")); err != nil {
		return fmt.Errorf("model data: %w", err)
	}
	if err := t.client.SetTessdataPrefix(dataDir); err != nil {
		return fmt.Errorf("set tessdata prefix: %w", err)
	}
	if err := t.client.SetLanguage(model); err != nil {
		return fmt.Errorf("set language: %w", err)
	}

	blank := image.NewGray(image.Rect(0, 0, 32, 32))
	draw.Draw(blank, blank.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if err := t.SetImage(blank); err != nil {
		return err
	}
	if _, err := t.client.Text(); err != nil {
		return fmt.Errorf("load model %s: %w", model, err)
	}
	return nil
}

// SetSegmentationMode sets the page segmentation mode
func (t *Tesseract) SetSegmentationMode(mode SegmentationMode) error {
	if err := t.client.SetPageSegMode(gosseract.PageSegMode(mode)); err != nil {
		return fmt.Errorf("set page segmentation mode: %w", err)
	}
	return nil
}

// SetImage sets the raster for the next recognition
func (t *Tesseract) SetImage(img image.Image) error {
	data, err := EncodePNG(img)
	if err != nil {
		return err
	}
	if err := t.client.SetImageFromBytes(data); err != nil {
		return fmt.Errorf("set image: %w", err)
	}
	return nil
}

// Text recognizes the current image
func (t *Tesseract) Text() (string, error) {
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}

// SetDiagnosticSink redirects Tesseract's debug_file
func (t *Tesseract) SetDiagnosticSink(path string) error {
	return t.client.SetVariable(gosseract.SettableVariable("debug_file"), path)
}

// Release closes the native client
func (t *Tesseract) Release() error {
	return t.client.Close()
}
