package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/teslashibe/go-talkmode/internal/httpc"
	"github.com/teslashibe/go-talkmode/internal/log"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 700
)

const systemPrompt = `You are the voice assistant for a documentation site. Answer the user's question from the documentation.

Respond with a single JSON object, nothing else:
{"answer": "...", "sources": [{"title": "...", "url": "..."}], "actionableSteps": ["..."], "followUpQuestions": ["..."]}

The answer field is read aloud by a speech synthesizer. Keep it short, plain and conversational. No markdown, no code, no URLs in the answer field. Omit sources, actionableSteps or followUpQuestions when you have none.`

// OpenAI answers questions through the OpenAI chat completions API.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	prompt    string
	baseURL   string
	log       *slog.Logger
}

// OpenAIOption configures the OpenAI provider.
type OpenAIOption func(*OpenAI)

// WithModel overrides the completion model.
func WithModel(model string) OpenAIOption {
	return func(p *OpenAI) { p.model = model }
}

// WithMaxTokens caps the completion length. Zero disables the cap.
func WithMaxTokens(n int) OpenAIOption {
	return func(p *OpenAI) { p.maxTokens = n }
}

// WithSystemPrompt replaces the built-in instructions.
func WithSystemPrompt(prompt string) OpenAIOption {
	return func(p *OpenAI) { p.prompt = prompt }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(p *OpenAI) { p.baseURL = url }
}

// WithOpenAILogger sets the logger.
func WithOpenAILogger(l *slog.Logger) OpenAIOption {
	return func(p *OpenAI) { p.log = l }
}

// NewOpenAI builds an OpenAI-backed provider.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	p := &OpenAI{
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		prompt:    systemPrompt,
		log:       log.L(),
	}
	for _, opt := range opts {
		opt(p)
	}

	ropts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpc.Client),
	}
	if p.baseURL != "" {
		ropts = append(ropts, option.WithBaseURL(p.baseURL))
	}
	client := openai.NewClient(ropts...)
	p.client = &client
	p.log = p.log.With("component", "answer.openai")
	return p, nil
}

// AnswerQuestion implements Provider.
func (p *OpenAI) AnswerQuestion(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	params := openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.prompt),
			openai.UserMessage(question),
		},
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("answer: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyAnswer
	}

	raw := trimFence(resp.Choices[0].Message.Content)
	ans, err := unmarshalAnswer([]byte(raw))
	switch {
	case err == nil:
		return ans, nil
	case errors.Is(err, ErrEmptyAnswer):
		return nil, err
	case raw != "":
		// Plain-text replies still make fine spoken answers.
		p.log.Debug("non-JSON answer, using raw text", "error", err)
		return &Answer{Text: raw}, nil
	default:
		return nil, ErrEmptyAnswer
	}
}

var _ Provider = (*OpenAI)(nil)
