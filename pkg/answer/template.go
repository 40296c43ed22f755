package answer

import (
	"context"
	"strings"
)

// Rule matches questions by keyword and carries the canned reply.
type Rule struct {
	// Keywords trigger the rule when any of them appears in the
	// question. Matching is case-insensitive.
	Keywords []string

	// Answer is returned verbatim on a match.
	Answer Answer
}

// Template answers questions from a fixed rule table. It stands in for
// a real documentation backend during development and demos: the first
// rule whose keyword appears in the question wins, and questions no
// rule covers get the fallback.
type Template struct {
	rules    []Rule
	fallback Answer
}

// TemplateOption configures a Template.
type TemplateOption func(*Template)

// WithRules replaces the default rule table.
func WithRules(rules ...Rule) TemplateOption {
	return func(t *Template) { t.rules = rules }
}

// WithFallback replaces the default no-match answer.
func WithFallback(a Answer) TemplateOption {
	return func(t *Template) { t.fallback = a }
}

// NewTemplate builds a template provider. Without options it carries a
// small rule table about the voice features themselves, enough to hold
// a demo conversation.
func NewTemplate(opts ...TemplateOption) *Template {
	t := &Template{
		rules:    defaultRules,
		fallback: defaultFallback,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AnswerQuestion implements Provider.
func (t *Template) AnswerQuestion(ctx context.Context, question string) (*Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" {
		return nil, ErrEmptyQuestion
	}
	for i := range t.rules {
		for _, kw := range t.rules[i].Keywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				a := t.rules[i].Answer
				return &a, nil
			}
		}
	}
	a := t.fallback
	return &a, nil
}

var defaultRules = []Rule{
	{
		Keywords: []string{"voice", "talk mode", "microphone", "listening"},
		Answer: Answer{
			Text: "Talk Mode keeps a hands-free conversation going. Say your question, " +
				"pause, and the answer is read back to you. Listening resumes on its own " +
				"after each answer. Say \"stop\" at any time to end the conversation.",
			Sources: []Source{
				{Title: "Voice conversations", URL: "/docs/voice"},
			},
			ActionableSteps: []string{
				"Say \"start listening\" or press the microphone button",
				"Ask your question and pause when you are done",
				"Say \"stop\" to leave Talk Mode",
			},
			FollowUpQuestions: []string{
				"How do I change the silence timeout?",
				"Which languages are supported?",
			},
		},
	},
	{
		Keywords: []string{"silence", "timeout", "pause"},
		Answer: Answer{
			Text: "The silence timeout decides how long a pause ends your question. " +
				"The default is two and a half seconds. Raise it if you tend to think " +
				"mid-sentence, lower it for snappier turns.",
			Sources: []Source{
				{Title: "Tuning recognition", URL: "/docs/voice/tuning"},
			},
		},
	},
	{
		Keywords: []string{"language", "languages", "locale"},
		Answer: Answer{
			Text: "Recognition and speech follow the configured language tag, like " +
				"en-US or de-DE. The default voice is picked to match it, preferring " +
				"voices that work offline.",
			Sources: []Source{
				{Title: "Languages and voices", URL: "/docs/voice/languages"},
			},
		},
	},
}

var defaultFallback = Answer{
	Text: "I don't have documentation on that yet. Try asking about voice " +
		"conversations, the silence timeout, or supported languages.",
	FollowUpQuestions: []string{
		"How do I use voice conversations?",
		"Which languages are supported?",
	},
}

var _ Provider = (*Template)(nil)
