// Package llm reads scheduling instructions with a chat-completion model when
// the rule-based parser cannot.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/LeventeLantos/scheduled-messaging/internal/parser"
)

const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You extract message scheduling requests.
Reply with a single JSON object and nothing else:
{"recipient": string, "message": string, "delay_minutes": integer or null}
recipient is the single-word contact name (use "you" when the sender means themselves).
message is the text to send, without surrounding quotes.
delay_minutes is how many minutes from now to send; "tomorrow" is 1440.
Use "" or null for anything the request does not say.`

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Extractor struct {
	client *openai.Client
	model  string
}

func New(cfg Config, opts ...option.RequestOption) *Extractor {
	var reqOpts []option.RequestOption
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	reqOpts = append(reqOpts, opts...)

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	cl := openai.NewClient(reqOpts...)
	return &Extractor{client: &cl, model: model}
}

type extraction struct {
	Recipient    string `json:"recipient"`
	Message      string `json:"message"`
	DelayMinutes *int   `json:"delay_minutes"`
}

// Extract asks the model for the request fields. Fields the model leaves out
// stay empty in the result.
func (e *Extractor) Extract(ctx context.Context, input string) (parser.Request, error) {
	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(input),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return parser.Request{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return parser.Request{}, errors.New("chat completion returned no choices")
	}
	return decode(resp.Choices[0].Message.Content)
}

func decode(content string) (parser.Request, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var ex extraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &ex); err != nil {
		return parser.Request{}, fmt.Errorf("decode extraction: %w", err)
	}

	req := parser.Request{
		Recipient: strings.ToLower(strings.TrimSpace(ex.Recipient)),
		Body:      strings.TrimSpace(ex.Message),
	}
	// Only the first word is a usable contact name.
	if fields := strings.Fields(req.Recipient); len(fields) > 0 {
		req.Recipient = fields[0]
	}
	if ex.DelayMinutes != nil {
		req.DelayMinutes = *ex.DelayMinutes
		req.HasDelay = true
	}
	return req, nil
}
