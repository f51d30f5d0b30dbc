package domain

import "fmt"

// Candidate is a package, repository or app produced by a catalog discovery call.
type Candidate struct {
	ID           string
	Ref          string
	DownloadURLs []string
}

// Outcome classifies the result of a single remote operation.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeTransient
	OutcomeRateLimited
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTransient:
		return "transient_failure"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomePermanent:
		return "permanent_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ScanVerdict is the malware scanner's decision for one artifact.
type ScanVerdict int

const (
	ScanClean ScanVerdict = iota
	ScanInfected
	ScanError
)

func (v ScanVerdict) String() string {
	switch v {
	case ScanClean:
		return "clean"
	case ScanInfected:
		return "infected"
	case ScanError:
		return "scan_error"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// SignatureStatus is informational; it never changes keep/delete outcome.
type SignatureStatus int

const (
	Unsigned SignatureStatus = iota
	Signed
	VerifyError
)

func (s SignatureStatus) String() string {
	switch s {
	case Signed:
		return "signed"
	case Unsigned:
		return "unsigned"
	case VerifyError:
		return "verify_error"
	default:
		return fmt.Sprintf("signature(%d)", int(s))
	}
}

// ArtifactState tracks one file through the trust pipeline. Transitions are one way.
type ArtifactState string

const (
	StateExtracted ArtifactState = "extracted"
	StateRejected  ArtifactState = "rejected"
	StateValidated ArtifactState = "validated"
	StateKept      ArtifactState = "kept"
	StateInfected  ArtifactState = "infected"
)

// Terminal reports whether no further stage may process the artifact.
func (s ArtifactState) Terminal() bool {
	return s == StateRejected || s == StateKept || s == StateInfected
}

// SanitizeStats counts the sanitizer's per-file decisions.
type SanitizeStats struct {
	Total          int
	Kept           int
	Signed         int
	DeletedPE      int
	DeletedMalware int
	RemovedDirs    int
}

// CycleReport summarizes one acquisition pass over a single source.
type CycleReport struct {
	Source      string
	RunID       string
	Discovered  int
	Skipped     int
	Downloaded  int
	Recorded    int
	Kept        int
	Rejected    int
	Infected    int
	Failed      int
	RateLimited bool
}

// Payload is a downloaded response body with the name it should be stored under.
type Payload struct {
	URL      string
	FileName string
	Data     []byte
}
