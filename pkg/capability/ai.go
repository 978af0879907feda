package capability

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/kaori/plughost/pkg/manifest"
)

// AIConfig carries the host's provider credentials. Plugins never see the
// keys; they only get completion calls through this capability.
type AIConfig struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultModel    string
}

// AIRequest is a single completion request.
type AIRequest struct {
	Provider     string // "anthropic" or "openai"; empty picks by configured keys
	Model        string
	System       string
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

// AI gives plugins rate-limited access to the host's AI providers.
type AI struct {
	gate      *gate
	config    AIConfig
	anthropic anthropic.Client
	openai    openai.Client
}

func newAI(g *gate, cfg AIConfig) *AI {
	return &AI{
		gate:      g,
		config:    cfg,
		anthropic: anthropic.NewClient(anthropicopt.WithAPIKey(cfg.AnthropicAPIKey)),
		openai:    openai.NewClient(openaiopt.WithAPIKey(cfg.OpenAIAPIKey)),
	}
}

// Complete runs a single-turn completion against the selected provider.
func (a *AI) Complete(ctx context.Context, req AIRequest) (string, error) {
	if err := a.gate.limiter.Allow(a.gate.pluginID, "ai"); err != nil {
		return "", err
	}
	if err := a.gate.guard.Require(a.gate.pluginID, manifest.PermissionAI); err != nil {
		return "", err
	}

	provider := req.Provider
	if provider == "" {
		if a.config.AnthropicAPIKey != "" {
			provider = "anthropic"
		} else {
			provider = "openai"
		}
	}
	model := req.Model
	if model == "" {
		model = a.config.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	switch provider {
	case "anthropic":
		return a.completeAnthropic(ctx, req, model, maxTokens)
	case "openai":
		return a.completeOpenAI(ctx, req, model, maxTokens)
	default:
		return "", fmt.Errorf("unknown AI provider: %q", provider)
	}
}

func (a *AI) completeAnthropic(ctx context.Context, req AIRequest, model string, maxTokens int) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := a.anthropic.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func (a *AI) completeOpenAI(ctx context.Context, req AIRequest, model string, maxTokens int) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := a.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
