package receipt

import "sort"

// BandTolerance is the maximum vertical distance, in pixels, between a token's
// top and a band key for the token to join that band.
const BandTolerance = 25

// Band is a group of tokens judged to lie on the same visual line
type Band struct {
	// Key is the top coordinate of the first token placed in the band. It is
	// never updated as more tokens join.
	Key    int
	Tokens []Token
}

// Last returns the right-most token of a finalized band
func (b Band) Last() (Token, bool) {
	if len(b.Tokens) == 0 {
		return Token{}, false
	}
	return b.Tokens[len(b.Tokens)-1], true
}

// BuildBands clusters tokens into bands ordered top to bottom, each with its
// tokens ordered left to right. Tokens are assigned in the order given: a
// token joins the first existing band whose key is within BandTolerance of
// its top, otherwise it opens a new band keyed by its own top.
func BuildBands(tokens []Token) []Band {
	bands := make([]Band, 0)
	for _, t := range tokens {
		idx := -1
		for i := range bands {
			if abs(bands[i].Key-t.Box.Top) < BandTolerance {
				idx = i
				break
			}
		}
		if idx == -1 {
			bands = append(bands, Band{Key: t.Box.Top})
			idx = len(bands) - 1
		}
		bands[idx].Tokens = append(bands[idx].Tokens, t)
	}

	// The first inserted token's top is the key, so ordering by key is
	// ordering by first-inserted top.
	sort.SliceStable(bands, func(i, j int) bool {
		return bands[i].Key < bands[j].Key
	})
	for i := range bands {
		toks := bands[i].Tokens
		sort.SliceStable(toks, func(a, b int) bool {
			return toks[a].Box.Left < toks[b].Box.Left
		})
	}
	return bands
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
