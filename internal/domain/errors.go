package domain

import "errors"

// OutcomeError attaches an Outcome to an operation error.
type OutcomeError struct {
	Outcome Outcome
	Err     error
}

func (e *OutcomeError) Error() string {
	if e.Err == nil {
		return e.Outcome.String()
	}
	return e.Outcome.String() + ": " + e.Err.Error()
}

func (e *OutcomeError) Unwrap() error { return e.Err }

// WithOutcome wraps err with an outcome; a nil err stays nil.
func WithOutcome(o Outcome, err error) error {
	if err == nil {
		return nil
	}
	return &OutcomeError{Outcome: o, Err: err}
}

// OutcomeOf extracts the outcome from err. Unclassified errors are permanent.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var oe *OutcomeError
	if errors.As(err, &oe) {
		return oe.Outcome
	}
	return OutcomePermanent
}
