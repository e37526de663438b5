// Package ai phrases reminders with an OpenAI compatible chat model.
package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"karina/bots/Karina/reminder"
)

const (
	DefaultModel = "gpt-4o-mini"

	maxTokens        = 120
	baseTemperature  = 0.7
	freshTemperature = 1.0
)

const systemPrompt = `You are Karina, a warm and slightly cheeky personal assistant chatting in Telegram.
Write one short reminder message (at most two sentences) for the user.
The higher the urgency, the more insistent the message, but stay kind.
Never invent facts that aren't in the request. Reply with the message text only.`

var urgency = map[reminder.Severity]string{
	reminder.SeverityNormal:   "gentle",
	reminder.SeverityElevated: "a bit more insistent",
	reminder.SeverityHigh:     "insistent",
	reminder.SeverityCritical: "very urgent",
}

var errEmptyChoice = errors.New("model returned no text")

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Generator implements reminder.Phraser.
type Generator struct {
	client *openai.Client
	model  string

	mu   sync.Mutex
	last map[reminder.Category]string
}

func New(cfg Config) *Generator {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	return &Generator{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		last:   make(map[reminder.Category]string),
	}
}

func (g *Generator) Generate(ctx context.Context, req reminder.PhraseRequest) (string, error) {
	temperature := float32(baseTemperature)
	var previous string
	if req.ForceNew {
		temperature = freshTemperature
		g.mu.Lock()
		previous = g.last[req.Category]
		g.mu.Unlock()
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req, previous)},
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to complete chat")
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyChoice
	}

	text := strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), `"`)
	if text == "" {
		return "", errEmptyChoice
	}

	g.mu.Lock()
	g.last[req.Category] = text
	g.mu.Unlock()

	return text, nil
}

func userPrompt(req reminder.PhraseRequest, previous string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reminder type: %s\n", strings.ReplaceAll(string(req.Category), "_", " "))
	fmt.Fprintf(&sb, "Urgency: %s\n", urgency[req.Severity])
	if !req.TimeHint.IsZero() {
		fmt.Fprintf(&sb, "Scheduled for: %s\n", req.TimeHint.Format("15:04"))
	}
	if req.Message != "" {
		fmt.Fprintf(&sb, "About: %s\n", req.Message)
	}

	keys := make([]string, 0, len(req.Context))
	for k := range req.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %v\n", strings.ReplaceAll(k, "_", " "), req.Context[k])
	}

	if previous != "" {
		fmt.Fprintf(&sb, "Use different wording than last time: %q\n", previous)
	}
	return sb.String()
}
