package scanning

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/zombor/ocr-scanner/internal/receipt"
)

// Vision implements the Recognizer interface using Google Cloud Vision
// document text detection
type Vision struct {
	client *vision.ImageAnnotatorClient
}

// NewVision creates a Cloud Vision Recognizer. An explicit credentials file
// wins; otherwise GOOGLE_CREDENTIALS (inline JSON) and then application
// default credentials are tried.
func NewVision(ctx context.Context, credentialsFile string) (*Vision, error) {
	var opts []option.ClientOption
	switch {
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	case os.Getenv("GOOGLE_CREDENTIALS") != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(os.Getenv("GOOGLE_CREDENTIALS"))))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}
	return &Vision{client: client}, nil
}

// Recognize runs document text detection on the image
func (v *Vision) Recognize(ctx context.Context, img image.Image) (*Recognition, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return nil, err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("calling vision API: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("no response from vision API")
	}

	r := resp.Responses[0]
	if r.Error != nil {
		return nil, fmt.Errorf("vision API error: %s", r.Error.Message)
	}
	return recognitionFromAnnotation(r.FullTextAnnotation), nil
}

// Close closes the underlying Vision client
func (v *Vision) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

// recognitionFromAnnotation maps pages/blocks/paragraphs/words onto the
// block/line/element hierarchy. A paragraph becomes a line.
func recognitionFromAnnotation(ann *visionpb.TextAnnotation) *Recognition {
	rec := &Recognition{}
	if ann == nil {
		return rec
	}
	rec.Text = ann.Text

	for _, page := range ann.Pages {
		for _, b := range page.Blocks {
			block := Block{}
			var blockLines []string
			for _, p := range b.Paragraphs {
				line := Line{}
				words := make([]string, 0, len(p.Words))
				for _, w := range p.Words {
					var sb strings.Builder
					for _, s := range w.Symbols {
						sb.WriteString(s.Text)
					}
					if sb.Len() == 0 {
						continue
					}
					line.Elements = append(line.Elements, receipt.Token{
						Text: sb.String(),
						Box:  boxFromPoly(w.BoundingBox),
					})
					words = append(words, sb.String())
				}
				if len(line.Elements) == 0 {
					continue
				}
				line.Text = strings.Join(words, " ")
				block.Lines = append(block.Lines, line)
				blockLines = append(blockLines, line.Text)
			}
			if len(block.Lines) == 0 {
				continue
			}
			block.Text = strings.Join(blockLines, "\n")
			rec.Blocks = append(rec.Blocks, block)
		}
	}
	return rec
}

// boxFromPoly returns the axis-aligned bounds of a bounding polygon
func boxFromPoly(poly *visionpb.BoundingPoly) receipt.Box {
	if poly == nil || len(poly.Vertices) == 0 {
		return receipt.Box{}
	}
	minX, minY := int32(math.MaxInt32), int32(math.MaxInt32)
	maxX, maxY := int32(math.MinInt32), int32(math.MinInt32)
	for _, v := range poly.Vertices {
		minX = min(minX, v.GetX())
		minY = min(minY, v.GetY())
		maxX = max(maxX, v.GetX())
		maxY = max(maxY, v.GetY())
	}
	return receipt.Box{Left: int(minX), Top: int(minY), Right: int(maxX), Bottom: int(maxY)}
}
