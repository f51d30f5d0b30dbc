package domain

// Policy decides what an unavailable or failing verifier means for an artifact.
type Policy int

const (
	// FailOpen treats a verifier failure as a pass.
	FailOpen Policy = iota
	// FailClosed treats a verifier failure as not meeting the criterion.
	FailClosed
)

func (p Policy) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}
