package pipeline

import (
	"context"
	"errors"
	"image"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/ocr-scanner/internal/receipt"
	"github.com/zombor/ocr-scanner/internal/scanning"
)

var _ = DescribeTable("FormatMath",
	func(raw, expected string) {
		Expect(FormatMath(raw)).To(Equal(expected))
	},
	Entry("strips whitespace", " 1 +\t2 = 3\n", "1+2=3"),
	Entry("normalizes the em dash", "5 — 2", "5-2"),
	Entry("normalizes the en dash", "5 – 2", "5-2"),
	Entry("normalizes lowercase x", "3 x 4", "3×4"),
	Entry("normalizes uppercase X", "3X4", "3×4"),
	Entry("keeps other characters", "√(a²+b²)", "√(a²+b²)"),
)

var _ = Describe("ParseMode", func() {
	It("parses every mode name", func() {
		for _, m := range []Mode{ModeText, ModeMath, ModeReceipt} {
			parsed, err := ParseMode(m.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(m))
		}
	})

	It("ignores case and spacing", func() {
		Expect(ParseMode(" Receipt ")).To(Equal(ModeReceipt))
	})

	It("rejects unknown names", func() {
		_, err := ParseMode("barcode")
		Expect(err).To(HaveOccurred())
	})

	It("unmarshals from text", func() {
		var m Mode
		Expect(m.UnmarshalText([]byte("math"))).To(Succeed())
		Expect(m).To(Equal(ModeMath))
	})
})

var _ = Describe("receipt pipeline", func() {
	var (
		primary *fakeRecognizer
		coord   *Coordinator
		result  *Result
		err     error
	)

	BeforeEach(func() {
		primary = &fakeRecognizer{}
	})

	JustBeforeEach(func() {
		coord = NewCoordinator(primary, newManager(&engineFactory{}), Options{Mode: ModeReceipt, Logger: discardLogger})
		DeferCleanup(coord.Close)
		result, err = coord.Scan(context.Background(), imageSource(testImage(10, 10), "", ""), image.Rectangle{})
	})

	When("tokens carry positions", func() {
		BeforeEach(func() {
			primary.rec = &scanning.Recognition{
				Text: "Milk 2.50\nBread 3.00\nTOTAL 5.50 EUR",
				Blocks: []scanning.Block{
					{Lines: []scanning.Line{{Elements: []receipt.Token{
						{Text: "3.00", Box: receipt.Box{Left: 300, Top: 152}},
						{Text: "Bread", Box: receipt.Box{Left: 10, Top: 150}},
					}}}},
					{Lines: []scanning.Line{{Elements: []receipt.Token{
						{Text: "Milk", Box: receipt.Box{Left: 10, Top: 100}},
						{Text: "2.50", Box: receipt.Box{Left: 300, Top: 98}},
					}}}},
					{Lines: []scanning.Line{{Elements: []receipt.Token{
						{Text: "TOTAL", Box: receipt.Box{Left: 10, Top: 200}},
						{Text: "5.50", Box: receipt.Box{Left: 300, Top: 200}},
						{Text: "EUR", Box: receipt.Box{Left: 360, Top: 200}},
					}}}},
				},
			}
		})

		It("reconstructs the rows in reading order", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Rows).To(Equal([]receipt.Row{
				{Item: "Milk", Price: 2.50},
				{Item: "Bread", Price: 3.00},
			}))
		})
	})

	When("only flat text is available", func() {
		BeforeEach(func() {
			primary.rec = &scanning.Recognition{Text: "Coffee 1,234.50\nthank you\nTea 2,00"}
		})

		It("parses the text line by line", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Rows).To(Equal([]receipt.Row{
				{Item: "Coffee", Price: 1234.50},
				{Item: "Tea", Price: 2.00},
			}))
		})
	})

	When("no line ends in a price", func() {
		BeforeEach(func() {
			primary.rec = &scanning.Recognition{Text: "WELCOME\nthank you"}
		})

		It("reports that no price column was found", func() {
			Expect(errors.Is(err, scanning.ErrEmptyResult)).To(BeTrue())
			Expect(scanning.Details(err)).To(Equal("no price column found"))
		})
	})

	When("nothing is recognized", func() {
		BeforeEach(func() {
			primary.rec = &scanning.Recognition{}
		})

		It("reports an empty result", func() {
			Expect(errors.Is(err, scanning.ErrEmptyResult)).To(BeTrue())
		})
	})
})
