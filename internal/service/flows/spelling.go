package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"keenscan/internal/service/ai"
)

const spellingSystemPrompt = `You are an expert Arabic editor. Your task is to correct spelling mistakes and format paragraphs in the text provided by the user.

VERY IMPORTANT:
- Your primary goal is to fix spelling errors.
- You should also ensure proper paragraph formatting. When a sentence ends with a period (.), it often signifies the end of a paragraph or requires a new line. Format the text accordingly.
- Do NOT change the sentence structure significantly.
- Do NOT change the style or rephrase anything.
- The output must be as close as possible to the original text, with only spelling mistakes fixed and paragraph formatting applied.`

type SpellingRequest struct {
	Credentials ai.Credentials
	Text        string
}

type SpellingResult struct {
	CorrectedText string `json:"correctedText"`
}

// CorrectSpelling fixes spelling and paragraph breaks. Empty input
// short-circuits to an empty result without a gateway call.
func (s *Service) CorrectSpelling(ctx context.Context, req SpellingRequest) (*SpellingResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return &SpellingResult{}, nil
	}

	resp, err := s.caller.Generate(ctx, req.Credentials, &ai.Request{
		System:      spellingSystemPrompt,
		Prompt:      fmt.Sprintf("Text to correct and format:\n%s", req.Text),
		OutputField: "correctedText",
	})
	if err != nil {
		return nil, fmt.Errorf("correct spelling: %w", err)
	}
	corrected := ai.DecodeField(resp.Text, "correctedText")
	if strings.TrimSpace(corrected) == "" {
		return nil, errors.New("model returned empty corrected text")
	}
	return &SpellingResult{CorrectedText: corrected}, nil
}
