package receipt

import (
	"math"
	"strings"
)

// Box is a token's bounding box in pixel coordinates
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Token is one recognized text fragment with its bounding box
type Token struct {
	Text string `json:"text"`
	Box  Box    `json:"box"`
}

// Row is one reconstructed item/price pair
type Row struct {
	Item  string  `json:"item"`
	Price float64 `json:"price"`
}

// Cents returns the price rounded to whole cents
func (r Row) Cents() int {
	return int(math.Round(r.Price * 100))
}

// Valid reports whether the row names an item and has a positive price
func (r Row) Valid() bool {
	return strings.TrimSpace(r.Item) != "" && r.Price > 0
}

// Total returns the sum of all row prices in cents
func Total(rows []Row) int {
	var total int
	for _, r := range rows {
		total += r.Cents()
	}
	return total
}
