package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ai-counseling/ai-counselor-line-bot/internal/config"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/state"
)

// Completer produces one completion for a full transcript. The
// governor only depends on this interface so tests can inject fakes.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Request struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Messages    []state.Turn
}

type Client struct {
	api openai.Client
}

func NewClient(cfg config.OpenAIConfig) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{api: openai.NewClient(opts...)}
}

func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, turn := range req.Messages {
		switch turn.Role {
		case state.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(turn.Text))
		case state.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(turn.Text))
		default:
			msgs = append(msgs, openai.UserMessage(turn.Text))
		}
	}

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    msgs,
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}

	out := resp.Choices[0].Message.Content
	out = TrimIncompleteSentence(out)
	out = InsertBreaks(out)
	return out, nil
}

// heavyKeywords escalate to the higher-capability model: career and
// life-direction topics need more room than day-to-day venting.
var heavyKeywords = []string{"転職", "キャリア", "将来", "人生", "退職", "辞めたい"}

// SelectTier picks the model and output budget for a message.
func SelectTier(cfg config.AgentConfig, text string) (model string, maxTokens int) {
	for _, kw := range heavyKeywords {
		if strings.Contains(text, kw) {
			return cfg.EscalatedModel, cfg.EscalatedTokens
		}
	}
	return cfg.Model, cfg.MaxTokens
}

const sentenceEnders = "。！？"

// TrimIncompleteSentence drops a trailing partial sentence when the
// completion was cut off by the token budget. Text with no complete
// sentence at all is returned unchanged.
func TrimIncompleteSentence(s string) string {
	trimmed := strings.TrimRight(s, " \n")
	if trimmed == "" {
		return s
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	if strings.ContainsRune(sentenceEnders, last) {
		return trimmed
	}
	idx := strings.LastIndexAny(trimmed, sentenceEnders)
	if idx < 0 {
		return s
	}
	_, width := utf8.DecodeRuneInString(trimmed[idx:])
	return trimmed[:idx+width]
}

var breakPattern = regexp.MustCompile(`。\s*([^。]{50,})`)

// InsertBreaks adds blank lines into long replies so they read well in
// a chat bubble. Applied only above 100 characters.
func InsertBreaks(s string) string {
	if utf8.RuneCountInString(s) <= 100 {
		return s
	}
	return breakPattern.ReplaceAllString(s, "。\n\n$1")
}
