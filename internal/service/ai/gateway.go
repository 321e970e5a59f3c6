package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"keenscan/internal/config"
)

// Credentials select the provider, model, and API key for a single call. The
// key travels with every request instead of living in shared client state.
type Credentials struct {
	Provider string
	Model    string
	APIKey   string
}

// InlinePart is a self-describing binary input: MIME type plus raw payload.
type InlinePart struct {
	MIMEType string
	Data     []byte
}

// Request is one prompt sent to the remote model.
type Request struct {
	System string
	Prompt string
	Media  []InlinePart
	// OutputField, when set, declares the single key of the JSON object the
	// model is asked to reply with.
	OutputField string
}

// Response carries the raw model reply.
type Response struct {
	Text string
}

// Caller is the remote inference boundary. Implementations perform exactly one
// model invocation per Generate call.
type Caller interface {
	Generate(ctx context.Context, creds Credentials, req *Request) (*Response, error)
}

// ErrRemote marks a failed remote call. The cause (timeout, auth, malformed
// reply) is opaque to callers; they only distinguish remote failures from
// local validation ones.
var ErrRemote = errors.New("remote inference failure")

// Service builds provider chat models per call and invokes them.
type Service struct {
	cfg *config.Config
}

func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

func (s *Service) Generate(ctx context.Context, creds Credentials, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	chatModel, err := s.buildModel(ctx, creds)
	if err != nil {
		return nil, err
	}

	messages := buildMessages(req)
	resp, err := chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	return &Response{Text: resp.Content}, nil
}

func (s *Service) buildModel(ctx context.Context, creds Credentials) (model.ToolCallingChatModel, error) {
	provider := strings.TrimSpace(creds.Provider)
	if provider == "" {
		return nil, errors.New("provider is required")
	}
	provCfg, ok := s.cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	modelName := strings.TrimSpace(creds.Model)
	if modelName == "" {
		modelName = provCfg.Model
	}
	token := strings.TrimSpace(creds.APIKey)
	if token == "" {
		token = provCfg.APIKey
	}
	if token == "" {
		return nil, fmt.Errorf("api key for %s not configured", provider)
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  token,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: token,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    token,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 8000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", provider, err)
	}
	return chatModel, nil
}

func buildMessages(req *Request) []*schema.Message {
	system := req.System
	if req.OutputField != "" {
		system += fmt.Sprintf(
			"\n\nRespond with a single JSON object containing one key %q whose string value is the result. Do not add any other keys or commentary.",
			req.OutputField,
		)
	}

	messages := []*schema.Message{
		{Role: schema.System, Content: system},
	}

	if len(req.Media) == 0 {
		messages = append(messages, &schema.Message{Role: schema.User, Content: req.Prompt})
		return messages
	}

	parts := []schema.ChatMessagePart{
		{Type: schema.ChatMessagePartTypeText, Text: req.Prompt},
	}
	for _, m := range req.Media {
		uri := dataURI(m.MIMEType, m.Data)
		if strings.HasPrefix(m.MIMEType, "image/") {
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      uri,
					MIMEType: m.MIMEType,
				},
			})
		} else {
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeFileURL,
				FileURL: &schema.ChatMessageFileURL{
					URL:      uri,
					MIMEType: m.MIMEType,
				},
			})
		}
	}
	messages = append(messages, &schema.Message{Role: schema.User, MultiContent: parts})
	return messages
}

func dataURI(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}
