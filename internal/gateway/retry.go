package gateway

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/JakeFAU/mediagate/internal/extractor"
)

// failureClass is how an extractor error is treated by the retry loop.
type failureClass int

const (
	// classAntiBot is a tool-reported bot challenge or rate limit. Retried
	// with the steeper backoff.
	classAntiBot failureClass = iota
	// classFatal is any other tool-reported error. Never retried.
	classFatal
	// classUnexpected is a failure to run the tool at all. Retried with
	// plain exponential backoff.
	classUnexpected
)

func (c failureClass) String() string {
	switch c {
	case classAntiBot:
		return "antibot"
	case classFatal:
		return "fatal"
	default:
		return "error"
	}
}

// DefaultAntiBotPhrases are matched case-insensitively against tool errors.
var DefaultAntiBotPhrases = []string{
	"Sign in to confirm you're not a bot",
	"not a bot",
}

// RetryPolicy decides whether a failed extractor call is retried and how
// long to wait first. Attempts are numbered from 0; attempt MaxRetries is the
// last one.
type RetryPolicy struct {
	maxRetries int
	unit       time.Duration
	phrases    []string
}

// NewRetryPolicy builds a policy. unit scales the backoff formulas (one
// second in production). Empty phrases fall back to DefaultAntiBotPhrases.
func NewRetryPolicy(maxRetries int, unit time.Duration, phrases []string) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if unit <= 0 {
		unit = time.Second
	}
	if len(phrases) == 0 {
		phrases = DefaultAntiBotPhrases
	}
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			lowered = append(lowered, strings.ToLower(p))
		}
	}
	return &RetryPolicy{maxRetries: maxRetries, unit: unit, phrases: lowered}
}

// MaxRetries returns the retry budget.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

func (p *RetryPolicy) classify(err error) failureClass {
	var toolErr *extractor.ToolError
	if !errors.As(err, &toolErr) {
		return classUnexpected
	}
	msg := strings.ToLower(toolErr.Message)
	for _, phrase := range p.phrases {
		if strings.Contains(msg, phrase) {
			return classAntiBot
		}
	}
	return classFatal
}

// shouldRetry reports whether attempt may be followed by another one.
func (p *RetryPolicy) shouldRetry(class failureClass, attempt int) bool {
	if class == classFatal {
		return false
	}
	return attempt < p.maxRetries
}

// backoff returns the wait after a failed attempt: 2^n + 2n units for bot
// challenges, 2^n units for unexpected failures.
func (p *RetryPolicy) backoff(class failureClass, attempt int) time.Duration {
	units := math.Pow(2, float64(attempt))
	if class == classAntiBot {
		units += float64(2 * attempt)
	}
	return time.Duration(units * float64(p.unit))
}
