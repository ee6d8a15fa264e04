package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

const requestTimeout = 60 * time.Second

// imagePromptInstruction asks for the illustration brief stored alongside the
// rewritten text and used by the publish-time image generation.
const imagePromptInstruction = "Write a short English prompt for an editorial illustration matching this news item. Avoid text, logos and real persons. Answer with the prompt only."

// OpenAIRedrafter rewrites raw source text via chat completions and generates
// publish-time illustrations.
type OpenAIRedrafter struct {
	model      string
	imageModel string
	opts       []option.RequestOption
}

var (
	_ ports.Redrafter      = (*OpenAIRedrafter)(nil)
	_ ports.ImageGenerator = (*OpenAIRedrafter)(nil)
)

// NewOpenAIRedrafter builds a client from configuration.
func NewOpenAIRedrafter(cfg config.OpenAIConfig) (*OpenAIRedrafter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIRedrafter{model: cfg.Model, imageModel: cfg.ImageModel, opts: opts}, nil
}

// Redraft sends the origin text under the instruction profile and returns
// the rewritten copy with model and token accounting.
func (o *OpenAIRedrafter) Redraft(ctx context.Context, text, instruction string) (domain.Redraft, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	client := openai.NewClient(o.opts...)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instruction),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return domain.Redraft{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Redraft{}, errors.New("chat completion returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return domain.Redraft{}, errors.New("chat completion returned empty text")
	}

	result := domain.Redraft{
		Text:   content,
		Model:  resp.Model,
		Tokens: resp.Usage.TotalTokens,
	}

	// The illustration brief is an extra; losing it must not fail the redraft.
	prompt, tokens, err := o.imagePrompt(ctx, client, content)
	if err == nil {
		result.ImagePrompt = prompt
		result.Tokens += tokens
	}

	return result, nil
}

func (o *OpenAIRedrafter) imagePrompt(ctx context.Context, client openai.Client, text string) (string, int64, error) {
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(imagePromptInstruction),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("image prompt completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, errors.New("image prompt completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), resp.Usage.TotalTokens, nil
}

// GenerateImage produces an illustration for the prompt and returns its URL.
func (o *OpenAIRedrafter) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if o.imageModel == "" {
		return "", errors.New("openai image model is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	client := openai.NewClient(o.opts...)

	resp, err := client.Images.Generate(ctx, openai.ImageGenerateParams{
		Model:  openai.ImageModel(o.imageModel),
		Prompt: prompt,
		Size:   openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", errors.New("image generation returned no image")
	}
	return resp.Data[0].URL, nil
}
