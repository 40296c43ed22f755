// Package answer resolves user questions into structured documentation
// answers. A Provider is anything that can turn a question into an
// Answer: the bundled implementations ask OpenAI chat completions or a
// remote documentation service, and tests use the mock.
package answer

import (
	"context"
	"errors"
)

// Source points at the documentation page backing part of an answer.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Answer is a structured reply to one question. Text is what gets
// spoken; the rest is surfaced visually.
type Answer struct {
	Text              string   `json:"answer"`
	Sources           []Source `json:"sources,omitempty"`
	ActionableSteps   []string `json:"actionableSteps,omitempty"`
	FollowUpQuestions []string `json:"followUpQuestions,omitempty"`
}

// Provider answers questions about the documentation.
type Provider interface {
	AnswerQuestion(ctx context.Context, question string) (*Answer, error)
}

var (
	// ErrMissingAPIKey is returned when a provider needs a key it was
	// not given.
	ErrMissingAPIKey = errors.New("answer: missing API key")

	// ErrNoEndpoint is returned when the remote service URL is empty.
	ErrNoEndpoint = errors.New("answer: missing service endpoint")

	// ErrEmptyQuestion is returned for blank input.
	ErrEmptyQuestion = errors.New("answer: question is empty")

	// ErrEmptyAnswer is returned when the provider replied with nothing
	// worth speaking.
	ErrEmptyAnswer = errors.New("answer: provider returned nothing")
)
