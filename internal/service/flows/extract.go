package flows

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"keenscan/internal/service/ai"
)

const extractSystemPrompt = `You are an expert OCR reader specializing in academic and scientific documents. Your primary and most critical task is to extract every single word from the provided document with the highest possible accuracy.

VERY IMPORTANT instructions:
- The absolute priority is to capture all text content accurately. Do not omit any text.
- Preserve the original structure and layout as best as you can, including headings, bullet points, numbered lists, and indentation.
- If you detect a table, extract its content while maintaining the logical grouping of information. The exact visual formatting is secondary to capturing all the text within the table correctly.
- Accurately transcribe any scientific formulas, equations, and special characters.
- Ignore handwritten notes, highlights, or other markings not part of the original printed text.

The final output must be a clean, complete, and highly accurate transcription of the study material.`

type ExtractRequest struct {
	Credentials ai.Credentials
	MIMEType    string
	Data        []byte
	IsPDF       bool
}

type ExtractResult struct {
	ExtractedText string `json:"extractedText"`
}

// ExtractText runs the OCR flow against a single document. Identical payloads
// hit the result cache when one is configured.
func (s *Service) ExtractText(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if req.MIMEType == "" {
		return nil, errors.New("mime type is required")
	}
	if len(req.Data) == 0 {
		return nil, errors.New("document payload is required")
	}

	cacheKey := extractCacheKey(req.MIMEType, req.Data)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
			return &ExtractResult{ExtractedText: cached}, nil
		}
	}

	prompt := "The user has provided an image. Extract all visible text from it."
	if req.IsPDF {
		prompt = "The user has provided a multi-page PDF document. Ensure you process every page to extract all content."
	}

	resp, err := s.caller.Generate(ctx, req.Credentials, &ai.Request{
		System:      extractSystemPrompt,
		Prompt:      prompt,
		Media:       []ai.InlinePart{{MIMEType: req.MIMEType, Data: req.Data}},
		OutputField: "extractedText",
	})
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	text := ai.DecodeField(resp.Text, "extractedText")

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, text, s.cacheTTL); err != nil {
			log.Printf("cache extraction result: %v", err)
		}
	}
	return &ExtractResult{ExtractedText: text}, nil
}

func extractCacheKey(mimeType string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(mimeType))
	h.Write([]byte{0})
	h.Write(data)
	return "extract:" + hex.EncodeToString(h.Sum(nil))
}
