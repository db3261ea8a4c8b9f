// Package arbiter decides whether the final report may be written by asking a
// reviewing collaborator to look for severe contradictions between analyses.
// Review never fails: any problem degrades to a verdict that lets the report run.
package arbiter

import (
	"context"
	"log/slog"
	"time"
)

// Reviewer is the collaborator that judges the analyses.
type Reviewer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Arbiter struct {
	reviewer  Reviewer
	threshold int
	language  string
	logger    *slog.Logger
}

type Option func(*Arbiter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Arbiter) {
		a.logger = logger
	}
}

// WithThreshold replaces SevereConflictThreshold. Non-positive values are ignored.
func WithThreshold(n int) Option {
	return func(a *Arbiter) {
		if n > 0 {
			a.threshold = n
		}
	}
}

func WithLanguage(language string) Option {
	return func(a *Arbiter) {
		if language != "" {
			a.language = language
		}
	}
}

func New(reviewer Reviewer, opts ...Option) *Arbiter {
	a := &Arbiter{
		reviewer:  reviewer,
		threshold: SevereConflictThreshold,
		language:  "Chinese",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Review asks the reviewer for a verdict and applies the override rule.
func (a *Arbiter) Review(ctx context.Context, outputs Outputs) Verdict {
	start := time.Now()
	reply, err := a.reviewer.Complete(ctx, BuildPrompt(outputs, a.language))
	if err != nil {
		a.logger.WarnContext(ctx, "conflict review failed, proceeding with fallback verdict",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return FailedVerdict(err)
	}

	verdict, err := ParseVerdict(reply)
	if err != nil {
		a.logger.WarnContext(ctx, "conflict verdict unparseable, proceeding with fallback verdict",
			"error", err,
			"reply_length", len(reply),
		)
		return FallbackVerdict(reply, err)
	}

	verdict = ApplyOverride(verdict, a.threshold)
	a.logger.InfoContext(ctx, "conflict review complete",
		"has_conflicts", verdict.HasConflicts,
		"conflicts", len(verdict.ConflictsDetected),
		"proceed", verdict.Proceed,
		"overridden", verdict.Overridden(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return verdict
}
