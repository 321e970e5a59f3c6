package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"keenscan/internal/service/ai"
)

const answerSystemPrompt = `You are an expert academic assistant. Your task is to answer a user's question based *only* on the provided context. Do not use any external knowledge. If the answer is not found in the context, state that clearly.`

// AnswerType selects the response format for the question-answering flow.
type AnswerType string

const (
	AnswerDefault        AnswerType = "default"
	AnswerSummary        AnswerType = "summary"
	AnswerBulletPoints   AnswerType = "bullet_points"
	AnswerTrueFalse      AnswerType = "true_false"
	AnswerMultipleChoice AnswerType = "multiple_choice"
)

// answerInstructions maps every AnswerType to exactly one instruction.
var answerInstructions = map[AnswerType]string{
	AnswerDefault:      "Provide a direct and detailed answer to the user's question.",
	AnswerSummary:      "Provide a concise summary as the answer to the user's question.",
	AnswerBulletPoints: "Provide the answer in bullet points.",
	AnswerTrueFalse: "The user's question is a true/false statement. Evaluate if it is true or false based on the context and provide a brief justification. " +
		"Example response: True. The context states that [...].",
	AnswerMultipleChoice: "The user's question is a multiple-choice question. Determine the correct option (e.g., A, B, C, or D) based on the context and provide a brief justification for your choice. " +
		"Example response: C. The context mentions that [...], which corresponds to option C.",
}

// Instruction returns the formatting instruction for the answer type.
func (t AnswerType) Instruction() (string, bool) {
	s, ok := answerInstructions[t]
	return s, ok
}

type AnswerRequest struct {
	Credentials ai.Credentials
	Question    string
	Context     string
	AnswerType  AnswerType
}

type AnswerResult struct {
	Answer string `json:"answer"`
}

// AnswerQuestion answers a question strictly from the supplied context.
func (s *Service) AnswerQuestion(ctx context.Context, req AnswerRequest) (*AnswerResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New("question is required")
	}
	if strings.TrimSpace(req.Context) == "" {
		return nil, errors.New("context is required")
	}
	answerType := req.AnswerType
	if answerType == "" {
		answerType = AnswerDefault
	}
	instruction, ok := answerType.Instruction()
	if !ok {
		return nil, fmt.Errorf("unknown answer type: %s", answerType)
	}

	prompt := fmt.Sprintf(`Context:
---
%s
---

User's Question: %s

Now, answer the user's question based on the context, following this instruction:
%q

Answer:`, req.Context, req.Question, instruction)

	resp, err := s.caller.Generate(ctx, req.Credentials, &ai.Request{
		System:      answerSystemPrompt,
		Prompt:      prompt,
		OutputField: "answer",
	})
	if err != nil {
		return nil, fmt.Errorf("answer question: %w", err)
	}
	return &AnswerResult{Answer: ai.DecodeField(resp.Text, "answer")}, nil
}
