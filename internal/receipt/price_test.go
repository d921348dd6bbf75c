package receipt

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NormalizePrice", func() {
	DescribeTable("normalizing price strings",
		func(input string, expected float64) {
			Expect(NormalizePrice(input)).To(BeNumerically("~", expected, 1e-9))
		},
		Entry("european grouping", "1.234,56", 1234.56),
		Entry("us grouping", "1,234.56", 1234.56),
		Entry("plain decimal", "12.50", 12.50),
		Entry("comma decimal", "12,50", 12.50),
		Entry("integer", "7", 7.0),
		Entry("thousands only", "1.000", 1000.0),
		Entry("multiple groups", "1.234.567,89", 1234567.89),
		Entry("letters", "abc", 0.0),
		Entry("empty", "", 0.0),
		Entry("surrounding whitespace", " 3,99 ", 3.99),
		Entry("not a number", "NaN", 0.0),
		Entry("infinity", "Inf", 0.0),
	)

	It("is idempotent on canonical decimals", func() {
		for _, v := range []float64{0.99, 2.5, 12.5, 1234.56, 99.01} {
			canonical := fmt.Sprintf("%.2f", v)
			once := NormalizePrice(canonical)
			Expect(NormalizePrice(fmt.Sprintf("%.2f", once))).To(Equal(once))
			Expect(once).To(BeNumerically("~", v, 1e-9))
		}
	})
})

var _ = Describe("IsPrice", func() {
	DescribeTable("matching the trailing price token",
		func(input string, expected bool) {
			Expect(IsPrice(input)).To(Equal(expected))
		},
		Entry("two decimals", "2.50", true),
		Entry("comma decimals", "2,50", true),
		Entry("grouped", "1.234,56", true),
		Entry("integer", "12", true),
		Entry("four leading digits", "1234.56", false),
		Entry("one decimal", "2.5", false),
		Entry("currency prefix", "$2.50", false),
		Entry("word", "TOTAL", false),
		Entry("empty", "", false),
	)
})
