package scanning

import (
	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("candidateText", func() {
	candidate := func(parts ...genai.Part) *genai.Candidate {
		return &genai.Candidate{Content: &genai.Content{Parts: parts}}
	}

	DescribeTable("reading the first candidate",
		func(resp *genai.GenerateContentResponse, want string, found bool) {
			text, ok := candidateText(resp)
			Expect(ok).To(Equal(found))
			Expect(text).To(Equal(want))
		},
		Entry("nil response", nil, "", false),
		Entry("no candidates", &genai.GenerateContentResponse{}, "", false),
		Entry("candidate without content",
			&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}, "", false),
		Entry("only non-text parts",
			&genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				candidate(genai.Blob{MIMEType: "image/png", Data: []byte("\x89PNG")}),
			}}, "", false),
		Entry("text parts joined",
			&genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				candidate(genai.Text(`{"text": `), genai.Text(`"a"}`)),
				candidate(genai.Text("ignored")),
			}}, `{"text": "a"}`, true),
		Entry("text around other parts",
			&genai.GenerateContentResponse{Candidates: []*genai.Candidate{
				candidate(genai.Text("{"), genai.Blob{MIMEType: "image/png"}, genai.Text("}")),
			}}, "{}", true),
	)
})
