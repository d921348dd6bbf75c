package scanning

import "image"

// SegmentationMode controls how the math engine splits an image into text
type SegmentationMode int

// Segmentation modes (values match Tesseract's page segmentation modes)
const (
	SegmentAuto       SegmentationMode = 3
	SegmentSingleLine SegmentationMode = 7
)

// FormulaEngine is the secondary, math-capable recognition engine. It wraps
// a native instance and must be released.
type FormulaEngine interface {
	// Init loads the named model from dataDir, which holds the staged
	// <model>.traineddata files
	Init(dataDir, model string) error
	// SetSegmentationMode sets how the next image is segmented
	SetSegmentationMode(mode SegmentationMode) error
	// SetImage sets the raster for the next Text call
	SetImage(img image.Image) error
	// Text recognizes the current image
	Text() (string, error)
	// SetDiagnosticSink redirects the engine's debug output to path
	SetDiagnosticSink(path string) error
	// Release frees the native resources
	Release() error
}
