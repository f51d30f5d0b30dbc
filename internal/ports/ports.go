package ports

import (
	"context"
	"time"

	"PECorpus/internal/domain"
)

// Downloader fetches a candidate URL. Errors carry a domain.Outcome via
// domain.OutcomeOf so callers can branch on rate limits and transient failures.
type Downloader interface {
	Download(ctx context.Context, url string) (domain.Payload, error)
}

// Scanner is the malware-scan stage of the trust pipeline.
type Scanner interface {
	Name() string
	Policy() domain.Policy
	Scan(ctx context.Context, path string) (domain.ScanVerdict, error)
}

// SignatureChecker annotates kept artifacts with their signature status.
type SignatureChecker interface {
	Name() string
	Policy() domain.Policy
	Check(ctx context.Context, path string) (domain.SignatureStatus, error)
}

// DiskUsage reports the used fraction (0..1) of the filesystem holding path.
type DiskUsage interface {
	UsedRatio(path string) (float64, error)
}

// Notifier publishes cycle and sanitizer summaries to an external channel.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when acquisition cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
