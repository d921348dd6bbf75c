package receipt

import (
	"strings"
)

// Reconstruct turns an unordered bag of positioned tokens into item/price
// rows in reading order. Bands whose right-most token is not a price are
// discarded, as are bands that yield a blank item or a non-positive price.
func Reconstruct(tokens []Token) []Row {
	rows := make([]Row, 0)
	for _, band := range BuildBands(tokens) {
		last, ok := band.Last()
		if !ok || !IsPrice(last.Text) {
			continue
		}

		labels := make([]string, 0, len(band.Tokens)-1)
		for _, t := range band.Tokens[:len(band.Tokens)-1] {
			labels = append(labels, t.Text)
		}

		if row, ok := newRow(strings.Join(labels, " "), last.Text); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// ParseText is the fallback for engines that only return flat text. Each line
// with at least two whitespace separated fields whose last field is a price
// becomes a row.
func ParseText(raw string) []Row {
	rows := make([]Row, 0)
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	for _, line := range strings.Split(raw, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 2 || !IsPrice(parts[len(parts)-1]) {
			continue
		}
		if row, ok := newRow(strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func newRow(item, price string) (Row, bool) {
	row := Row{Item: item, Price: NormalizePrice(price)}
	return row, row.Valid()
}
