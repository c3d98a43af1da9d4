// Package policy composes the password check with the behavioural score
// into the final authentication outcome.
//
// The policy fails closed: a missing template, a store failure or an
// invalid capture all deny authentication. It never falls back to
// password-only verification.
package policy

import (
	"context"
	"errors"
	"fmt"

	"typeshield/internal/behaviour"
)

// Category classifies why an authentication attempt was denied. It is safe
// to show to the caller; it names the rejection class without exposing the
// stored template's timings.
type Category string

const (
	// CategoryNone marks a successful authentication.
	CategoryNone Category = ""

	// CategoryBadCredentials covers a failed password check.
	CategoryBadCredentials Category = "invalid_credentials"

	// CategoryNoTemplate means the user has no enrolled behaviour profile.
	CategoryNoTemplate Category = "behaviour_profile_missing"

	// CategoryBehaviourMismatch means the typing rhythm did not match.
	CategoryBehaviourMismatch Category = "behavioural_mismatch"

	// CategoryInvalidCapture means the attempt vector was unusable.
	CategoryInvalidCapture Category = "invalid_capture"
)

// TemplateSource supplies the enrolled template for a user. Implementations
// must return behaviour.ErrTemplateNotFound when no template exists and
// must never mutate a template during verification.
type TemplateSource interface {
	Template(ctx context.Context, userID int64) (behaviour.TimingVector, error)
}

// Decision is the final authentication outcome.
type Decision struct {
	// Authenticated is true only when both the password check and the
	// behavioural match succeeded.
	Authenticated bool

	// Category classifies a denial; CategoryNone on success.
	Category Category

	// Score carries the behavioural score and breakdown when scoring ran,
	// nil otherwise.
	Score *behaviour.ScoreResult

	// Reasons are caller-facing rejection reasons.
	Reasons []string
}

// Policy holds the scorer and template source.
type Policy struct {
	scorer    *behaviour.Scorer
	templates TemplateSource
}

// New creates a Policy.
func New(scorer *behaviour.Scorer, templates TemplateSource) *Policy {
	return &Policy{scorer: scorer, templates: templates}
}

// Authenticate produces the final outcome for a login attempt. passwordOK
// is the result of the external password verification; it is combined here
// so a behavioural mismatch and a wrong password deny identically at this
// layer. Store errors are returned to the caller, which must treat them as
// a denial.
func (p *Policy) Authenticate(ctx context.Context, userID int64, passwordOK bool, attempt behaviour.TimingVector) (Decision, error) {
	if !passwordOK {
		return Decision{
			Category: CategoryBadCredentials,
			Reasons:  []string{"Invalid credentials"},
		}, nil
	}

	if err := attempt.Validate(); err != nil {
		return Decision{
			Category: CategoryInvalidCapture,
			Reasons:  []string{"Behaviour capture was unusable; please retype your password"},
		}, nil
	}

	template, err := p.templates.Template(ctx, userID)
	if err != nil {
		if errors.Is(err, behaviour.ErrTemplateNotFound) {
			return Decision{
				Category: CategoryNoTemplate,
				Reasons:  []string{"Behaviour profile missing; re-enrollment required"},
			}, nil
		}
		// Fail closed on any store failure.
		return Decision{Category: CategoryBehaviourMismatch}, fmt.Errorf("load template: %w", err)
	}

	res, err := p.scorer.Score(template, attempt)
	if err != nil {
		if errors.Is(err, behaviour.ErrInvalidVector) {
			return Decision{
				Category: CategoryInvalidCapture,
				Reasons:  []string{"Behaviour capture was unusable; please retype your password"},
			}, nil
		}
		return Decision{Category: CategoryBehaviourMismatch}, fmt.Errorf("score attempt: %w", err)
	}

	if !res.Passed {
		return Decision{
			Category: CategoryBehaviourMismatch,
			Score:    res,
			Reasons:  res.Reasons,
		}, nil
	}

	return Decision{Authenticated: true, Score: res}, nil
}
