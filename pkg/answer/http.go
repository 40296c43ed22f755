package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teslashibe/go-talkmode/internal/httpc"
	"github.com/teslashibe/go-talkmode/internal/log"
)

const maxServiceReply = 1 << 20

// ServiceError reports a non-success reply from the answer service.
type ServiceError struct {
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("answer: service returned %d", e.Status)
	}
	return fmt.Sprintf("answer: service returned %d: %s", e.Status, e.Body)
}

// HTTP asks a remote documentation answer service. The service accepts
// {"question": "..."} and replies with the Answer JSON shape.
type HTTP struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// HTTPOption configures the HTTP provider.
type HTTPOption func(*HTTP)

// WithClient overrides the shared HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) { h.log = l }
}

// NewHTTP builds a provider backed by a remote answer service.
func NewHTTP(url string, opts ...HTTPOption) (*HTTP, error) {
	if url == "" {
		return nil, ErrNoEndpoint
	}
	h := &HTTP{url: url, log: log.L()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "answer.http")
	return h, nil
}

// AnswerQuestion implements Provider.
func (h *HTTP) AnswerQuestion(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	body, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return nil, fmt.Errorf("answer: encode request: %w", err)
	}

	resp, err := httpc.PostJSON(ctx, h.client, h.url, body)
	if err != nil {
		return nil, fmt.Errorf("answer: ask service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxServiceReply))
	if err != nil {
		return nil, fmt.Errorf("answer: read reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	return unmarshalAnswer(data)
}

var _ Provider = (*HTTP)(nil)
