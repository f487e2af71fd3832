// Package classifier asks the language model what to say next and whether
// the conversation should move to a department queue.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"

	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/conversation"
	"github.com/comigor/triage-go/internal/llm"
	"github.com/comigor/triage-go/internal/logger"
)

// FallbackMessage is the assistant reply used whenever classification fails.
const FallbackMessage = "Sorry, I'm having technical difficulties right now. Please rephrase your message or try again in a moment."

const (
	defaultModel       = "llama-3.3-70b-versatile"
	defaultTemperature = 0.7
	defaultMaxTokens   = 500
	defaultTimeout     = 30 * time.Second
	defaultBackoff     = 500 * time.Millisecond
)

var (
	ErrEmptyResponse = errors.New("empty model response")
	ErrEmptyMessage  = errors.New("model response has no message")
)

// Turn is one prior message of the conversation as the model sees it.
type Turn struct {
	Role    conversation.Role
	Content string
}

// Decision is the outcome of one classification.
type Decision struct {
	ShouldTransfer bool
	Department     *conversation.Department
	Message        string
	Summary        *string
}

// TransferRequested reports whether the decision names a department to move to.
func (d Decision) TransferRequested() bool {
	return d.ShouldTransfer && d.Department != nil
}

// Fallback returns the decision used when the model cannot be reached or
// its answer is unusable.
func Fallback() Decision {
	return Decision{Message: FallbackMessage}
}

// Gateway talks to an OpenAI-compatible chat completion endpoint.
type Gateway struct {
	client       llm.Client
	model        string
	systemPrompt string
	temperature  float32
	maxTokens    int
	timeout      time.Duration
	maxRetries   int
	backoff      time.Duration
	log          *slog.Logger
}

func New(client llm.Client, cfg config.LLMConfig) *Gateway {
	g := &Gateway{
		client:       client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		temperature:  defaultTemperature,
		maxTokens:    cfg.MaxTokens,
		timeout:      cfg.Timeout,
		maxRetries:   cfg.MaxRetries,
		backoff:      defaultBackoff,
		log:          logger.WithComponent("classifier"),
	}
	if g.model == "" {
		g.model = defaultModel
	}
	if g.systemPrompt == "" {
		g.systemPrompt = DefaultSystemPrompt
	}
	if cfg.Temperature != nil {
		g.temperature = *cfg.Temperature
	}
	if g.maxTokens <= 0 {
		g.maxTokens = defaultMaxTokens
	}
	if g.timeout <= 0 {
		g.timeout = defaultTimeout
	}
	if g.maxRetries < 0 {
		g.maxRetries = 0
	}
	if g.maxRetries > 1 {
		g.maxRetries = 1
	}
	return g
}

// Classify never fails: any transport, decoding or validation problem
// produces the fallback decision.
func (g *Gateway) Classify(ctx context.Context, history []Turn, message string) Decision {
	req := g.buildRequest(history, message)

	raw, err := g.complete(ctx, req)
	if err != nil {
		g.log.Error("classification request failed", "error", err)
		return Fallback()
	}

	d, err := Parse(raw)
	if err != nil {
		g.log.Warn("unusable classification", "error", err, "raw", raw)
		return Fallback()
	}
	g.log.Debug("classified message", "shouldTransfer", d.ShouldTransfer, "department", d.Department)
	return d
}

func (g *Gateway) buildRequest(history []Turn, message string) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: g.systemPrompt,
	})
	for _, turn := range history {
		var role string
		switch turn.Role {
		case conversation.RoleUser:
			role = openai.ChatMessageRoleUser
		case conversation.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	temperature := g.temperature
	if temperature == 0 {
		// a zero temperature is dropped from the request body by omitempty
		temperature = math.SmallestNonzeroFloat32
	}

	return openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   g.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
}

// complete performs the call, retrying transport errors up to maxRetries times.
func (g *Gateway) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	var resp openai.ChatCompletionResponse
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(g.maxRetries), retry.NewConstant(g.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		var err error
		resp, err = g.client.CreateChatCompletion(callCtx, req)
		if err != nil {
			if attempt <= g.maxRetries {
				g.log.Warn("model call failed, retrying", "attempt", attempt, "error", err)
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

type rawDecision struct {
	ShouldTransfer bool    `json:"shouldTransfer"`
	Department     *string `json:"department"`
	Message        string  `json:"message"`
	Summary        *string `json:"summary"`
}

// Parse decodes and validates a model answer. Markdown code fences around
// the JSON object are tolerated.
func Parse(raw string) (Decision, error) {
	var rd rawDecision
	if err := json.Unmarshal([]byte(stripFences(raw)), &rd); err != nil {
		return Decision{}, fmt.Errorf("decode model response: %w", err)
	}
	if strings.TrimSpace(rd.Message) == "" {
		return Decision{}, ErrEmptyMessage
	}

	d := Decision{
		ShouldTransfer: rd.ShouldTransfer,
		Message:        rd.Message,
	}
	if rd.Department != nil && strings.TrimSpace(*rd.Department) != "" {
		dept, err := conversation.ParseDepartment(*rd.Department)
		if err != nil {
			return Decision{}, err
		}
		d.Department = &dept
	}
	if rd.Summary != nil && strings.TrimSpace(*rd.Summary) != "" {
		s := strings.TrimSpace(*rd.Summary)
		d.Summary = &s
	}
	return d, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
