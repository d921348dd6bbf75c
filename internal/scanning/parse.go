package scanning

import (
	"encoding/json"
	"fmt"
	"image"
	"strings"

	"github.com/zombor/ocr-scanner/internal/receipt"
)

// layoutPrompt is the shared prompt used by the LLM-backed engines. It asks for
// the same block/line/word hierarchy a dedicated OCR engine returns.
const layoutPrompt = `You are an OCR engine. Read every piece of text in the image exactly as printed and report its position.

Return ONLY valid JSON in this exact format:
{
  "text": "all text in reading order, lines separated by \n",
  "blocks": [
    {
      "lines": [
        {
          "words": [
            {"text": "Milk", "box": [left, top, right, bottom]}
          ]
        }
      ]
    }
  ]
}

Important:
- A word is a run of characters without spaces; never merge words
- Boxes are integer pixel coordinates with the origin at the top-left corner of the image
- Copy prices, numbers and punctuation exactly; do not reformat them
- Do not translate or correct any text
- If there is no text, return {"text": "", "blocks": []}
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// layoutInput encodes the raster for an LLM engine and completes the prompt
// with the raster's size, which the model needs to report pixel boxes
func layoutInput(img image.Image) ([]byte, string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return nil, "", err
	}
	b := img.Bounds()
	prompt := fmt.Sprintf("%s\n\nThe image is %d pixels wide and %d pixels tall.", layoutPrompt, b.Dx(), b.Dy())
	return data, prompt, nil
}

type layoutWord struct {
	Text string `json:"text"`
	Box  []int  `json:"box"`
}

type layoutLine struct {
	Words []layoutWord `json:"words"`
}

type layoutBlock struct {
	Lines []layoutLine `json:"lines"`
}

type layoutResponse struct {
	Text   string        `json:"text"`
	Blocks []layoutBlock `json:"blocks"`
}

// parseLayoutJSON parses the JSON layout returned by an LLM engine
func parseLayoutJSON(text string) (*Recognition, error) {
	// Remove markdown code blocks if present
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var resp layoutResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	rec := &Recognition{Blocks: make([]Block, 0, len(resp.Blocks))}
	var lines []string
	for _, b := range resp.Blocks {
		block := Block{Lines: make([]Line, 0, len(b.Lines))}
		var blockLines []string
		for _, l := range b.Lines {
			line := Line{Elements: make([]receipt.Token, 0, len(l.Words))}
			words := make([]string, 0, len(l.Words))
			for _, w := range l.Words {
				word := strings.TrimSpace(w.Text)
				if word == "" {
					continue
				}
				line.Elements = append(line.Elements, receipt.Token{Text: word, Box: boxFromSlice(w.Box)})
				words = append(words, word)
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
		lines = append(lines, blockLines...)
	}

	rec.Text = strings.TrimSpace(resp.Text)
	if rec.Text == "" {
		rec.Text = strings.Join(lines, "\n")
	}
	return rec, nil
}

func boxFromSlice(v []int) receipt.Box {
	if len(v) != 4 {
		return receipt.Box{}
	}
	return receipt.Box{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}
}
