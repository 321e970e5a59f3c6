package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"keenscan/internal/service/ai"
)

const proofreadSystemPrompt = `You are an expert editor specializing in Arabic. Your task is to proofread the text provided by the user for any grammatical errors, spelling mistakes, or awkward phrasing.

In addition to correcting errors, please enhance the text for clarity, flow, and impact while preserving the original meaning and tone. The final output should be a clean, polished, and professional version of the text.`

type ProofreadRequest struct {
	Credentials ai.Credentials
	Text        string
}

type ProofreadResult struct {
	ProofreadText string `json:"proofreadText"`
}

// ProofreadText corrects and enhances the text. Empty input short-circuits to
// an empty result without a gateway call.
func (s *Service) ProofreadText(ctx context.Context, req ProofreadRequest) (*ProofreadResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return &ProofreadResult{}, nil
	}

	resp, err := s.caller.Generate(ctx, req.Credentials, &ai.Request{
		System:      proofreadSystemPrompt,
		Prompt:      fmt.Sprintf("Review the following text:\n\n%s", req.Text),
		OutputField: "proofreadText",
	})
	if err != nil {
		return nil, fmt.Errorf("proofread text: %w", err)
	}
	polished := ai.DecodeField(resp.Text, "proofreadText")
	if strings.TrimSpace(polished) == "" {
		return nil, errors.New("model returned empty proofread text")
	}
	return &ProofreadResult{ProofreadText: polished}, nil
}
