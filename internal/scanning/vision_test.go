package scanning

import (
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/ocr-scanner/internal/receipt"
)

func visionWord(text string, l, t, r, b int32) *visionpb.Word {
	w := &visionpb.Word{
		BoundingBox: &visionpb.BoundingPoly{Vertices: []*visionpb.Vertex{
			{X: l, Y: t}, {X: r, Y: t}, {X: r, Y: b}, {X: l, Y: b},
		}},
	}
	for _, ch := range text {
		w.Symbols = append(w.Symbols, &visionpb.Symbol{Text: string(ch)})
	}
	return w
}

var _ = Describe("recognitionFromAnnotation", func() {
	var (
		ann *visionpb.TextAnnotation
		rec *Recognition
	)

	JustBeforeEach(func() {
		rec = recognitionFromAnnotation(ann)
	})

	When("the annotation is nil", func() {
		BeforeEach(func() {
			ann = nil
		})

		It("returns an empty recognition", func() {
			Expect(rec.Text).To(BeEmpty())
			Expect(rec.Tokens()).To(BeEmpty())
		})
	})

	When("the annotation has pages", func() {
		BeforeEach(func() {
			ann = &visionpb.TextAnnotation{
				Text: "Milk 3.49\n",
				Pages: []*visionpb.Page{{
					Blocks: []*visionpb.Block{
						{Paragraphs: []*visionpb.Paragraph{{Words: []*visionpb.Word{
							visionWord("Milk", 10, 100, 60, 120),
							visionWord("3.49", 300, 102, 340, 122),
						}}}},
						{Paragraphs: []*visionpb.Paragraph{{Words: []*visionpb.Word{{}}}}},
					},
				}},
			}
		})

		It("keeps the full text", func() {
			Expect(rec.Text).To(Equal("Milk 3.49\n"))
		})

		It("maps paragraphs to lines and drops empty blocks", func() {
			Expect(rec.Blocks).To(HaveLen(1))
			Expect(rec.Blocks[0].Lines).To(HaveLen(1))
			Expect(rec.Blocks[0].Lines[0].Text).To(Equal("Milk 3.49"))
		})

		It("joins symbols and bounds the polygon", func() {
			Expect(rec.Tokens()).To(Equal([]receipt.Token{
				{Text: "Milk", Box: receipt.Box{Left: 10, Top: 100, Right: 60, Bottom: 120}},
				{Text: "3.49", Box: receipt.Box{Left: 300, Top: 102, Right: 340, Bottom: 122}},
			}))
		})
	})
})
