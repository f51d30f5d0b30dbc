package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"PECorpus/internal/archive"
	"PECorpus/internal/catalog"
	"PECorpus/internal/domain"
	"PECorpus/internal/ports"
	"PECorpus/internal/ratelimit"
	"PECorpus/internal/state"
	"PECorpus/internal/trust"
)

// ErrDiskThreshold means the corpus filesystem is too full to start a cycle.
var ErrDiskThreshold = errors.New("disk usage above threshold")

// Source is one catalog adapter with its own dedup ledger and candidate delay.
type Source struct {
	Adapter catalog.Adapter
	Ledger  state.Ledger
	Delay   time.Duration
}

// AcquisitionDeps wires the driven adapters into the acquisition cycle.
type AcquisitionDeps struct {
	Cursor     *state.Cursor
	Downloader ports.Downloader
	Extractor  *archive.Extractor
	Gate       *trust.Gate
	Disk       ports.DiskUsage
	Notifier   ports.Notifier
	Logger     *slog.Logger

	CorpusDir     string
	DiskThreshold float64
	DryRun        bool
}

// Acquisition polls catalogs, downloads new URLs and admits their artifacts.
type Acquisition struct {
	cursor     *state.Cursor
	downloader ports.Downloader
	extractor  *archive.Extractor
	gate       *trust.Gate
	disk       ports.DiskUsage
	notifier   ports.Notifier
	logger     *slog.Logger

	corpusDir string
	threshold float64
	dryRun    bool
}

// NewAcquisition constructs the acquisition use case.
func NewAcquisition(deps AcquisitionDeps) *Acquisition {
	extractor := deps.Extractor
	if extractor == nil {
		extractor = archive.NewExtractor(archive.WithLogger(deps.Logger))
	}
	return &Acquisition{
		cursor:     deps.Cursor,
		downloader: deps.Downloader,
		extractor:  extractor,
		gate:       deps.Gate,
		disk:       deps.Disk,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		corpusDir:  deps.CorpusDir,
		threshold:  deps.DiskThreshold,
		dryRun:     deps.DryRun,
	}
}

// RunCycle polls every source once, sequentially. A rate limit ends only the
// affected source. Errors are returned for unmet preconditions and for state
// that could not be persisted; everything else is counted in the reports.
func (a *Acquisition) RunCycle(ctx context.Context, sources []Source) ([]domain.CycleReport, error) {
	if a.cursor == nil {
		return nil, fmt.Errorf("discovery cursor is not configured")
	}
	if err := a.checkDisk(); err != nil {
		return nil, err
	}

	reports := make([]domain.CycleReport, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := a.runSource(ctx, src)
		reports = append(reports, report)
		if err != nil {
			return reports, fmt.Errorf("source %s: %w", src.Adapter.Name(), err)
		}
	}

	a.publish(ctx, reports)
	return reports, nil
}

func (a *Acquisition) checkDisk() error {
	if a.dryRun || a.disk == nil || a.threshold <= 0 {
		return nil
	}
	ratio, err := a.disk.UsedRatio(a.corpusDir)
	if err != nil {
		return fmt.Errorf("check disk usage: %w", err)
	}
	if ratio >= a.threshold {
		return fmt.Errorf("%w: %.1f%% used, limit %.1f%%", ErrDiskThreshold, ratio*100, a.threshold*100)
	}
	return nil
}

func (a *Acquisition) runSource(ctx context.Context, src Source) (domain.CycleReport, error) {
	adapter := src.Adapter
	report := domain.CycleReport{Source: adapter.Name(), RunID: uuid.NewString()}
	log := a.sourceLogger(report)
	throttle := ratelimit.NewThrottle(src.Delay)
	spec := adapter.CursorSpec()

	for _, query := range adapter.Queries() {
		value := a.cursor.Current(adapter.Name(), query, spec)
		log.Debug("discover", "query", query, "cursor", value)

		candidates, err := adapter.Discover(ctx, query, value)
		switch {
		case domain.OutcomeOf(err) == domain.OutcomeRateLimited:
			log.Warn("rate limited during discovery, stopping source", "query", query, "cursor", value)
			report.RateLimited = true
			return report, a.cursor.Hold(ctx, adapter.Name(), query, spec)
		case err != nil:
			log.Warn("discovery failed", "query", query, "cursor", value, "outcome", domain.OutcomeOf(err), "error", err)
			if err := a.cursor.Hold(ctx, adapter.Name(), query, spec); err != nil {
				return report, err
			}
			continue
		case len(candidates) == 0:
			log.Info("query exhausted, cursor reset", "query", query, "cursor", value)
			if err := a.cursor.Reset(ctx, adapter.Name(), query, spec); err != nil {
				return report, err
			}
			continue
		}

		used, err := a.cursor.Advance(ctx, adapter.Name(), query, spec)
		if err != nil {
			return report, err
		}
		report.Discovered += len(candidates)

		for _, cand := range candidates {
			limited, err := a.processCandidate(ctx, src, throttle, cand, &report, log)
			if err != nil {
				return report, err
			}
			if limited {
				log.Warn("rate limited, stopping source", "query", query, "candidate", cand.ID, "cursor", used)
				report.RateLimited = true
				return report, a.cursor.Restore(ctx, adapter.Name(), query, used)
			}
		}
	}

	log.Info("source done",
		"discovered", report.Discovered,
		"skipped", report.Skipped,
		"downloaded", report.Downloaded,
		"recorded", report.Recorded,
		"kept", report.Kept,
		"rejected", report.Rejected,
		"infected", report.Infected,
		"failed", report.Failed)
	return report, nil
}

// processCandidate resolves and downloads one candidate. It reports whether
// the source hit a rate limit; the error is reserved for state persistence.
func (a *Acquisition) processCandidate(ctx context.Context, src Source, throttle *ratelimit.Throttle, cand domain.Candidate, report *domain.CycleReport, log *slog.Logger) (bool, error) {
	urls := cand.DownloadURLs
	if len(urls) == 0 {
		if err := throttle.Wait(ctx); err != nil {
			return false, err
		}
		resolved, err := src.Adapter.Resolve(ctx, cand)
		if domain.OutcomeOf(err) == domain.OutcomeRateLimited {
			return true, nil
		}
		if err != nil {
			log.Warn("resolve failed", "candidate", cand.ID, "outcome", domain.OutcomeOf(err), "error", err)
			report.Failed++
			return false, nil
		}
		urls = resolved
	}
	if len(urls) == 0 {
		log.Debug("no download urls", "candidate", cand.ID)
		return false, nil
	}

	targetDir := filepath.Join(a.corpusDir, src.Adapter.Dir(), packageDir(cand.ID))

	for _, rawURL := range urls {
		seen, err := src.Ledger.Contains(ctx, rawURL)
		if err != nil {
			return false, fmt.Errorf("ledger lookup: %w", err)
		}
		if seen {
			log.Debug("already downloaded", "url", rawURL)
			report.Skipped++
			continue
		}
		if a.dryRun {
			log.Info("dry run, would download", "candidate", cand.ID, "url", rawURL)
			continue
		}

		if err := throttle.Wait(ctx); err != nil {
			return false, err
		}
		payload, err := a.downloader.Download(ctx, rawURL)
		if domain.OutcomeOf(err) == domain.OutcomeRateLimited {
			return true, nil
		}
		if err != nil {
			log.Warn("download failed", "url", rawURL, "outcome", domain.OutcomeOf(err), "error", err)
			report.Failed++
			continue
		}
		report.Downloaded++
		log.Debug("downloaded", "url", rawURL, "size", humanize.Bytes(uint64(len(payload.Data))))

		res, err := a.store(payload, targetDir)
		if err != nil {
			log.Warn("store failed", "url", rawURL, "error", err)
			report.Failed++
			continue
		}
		report.Rejected += len(res.Rejected)
		if !res.Success() {
			log.Info("no valid artifacts", "url", rawURL, "rejected", len(res.Rejected))
			continue
		}

		if err := src.Ledger.Record(ctx, rawURL); err != nil {
			return false, fmt.Errorf("ledger record: %w", err)
		}
		report.Recorded++

		if err := a.admit(ctx, res.Kept, report); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (a *Acquisition) store(payload domain.Payload, targetDir string) (archive.Result, error) {
	if archive.IsZip(payload.FileName, payload.Data) {
		return a.extractor.ExtractBytes(payload.Data, targetDir)
	}
	return a.extractor.SaveSingle(bytes.NewReader(payload.Data), payload.FileName, targetDir)
}

func (a *Acquisition) admit(ctx context.Context, kept []string, report *domain.CycleReport) error {
	for _, p := range kept {
		if a.gate == nil {
			report.Kept++
			continue
		}
		d, err := a.gate.Screen(ctx, p)
		if err != nil {
			return err
		}
		if d.Kept() {
			report.Kept++
		} else {
			report.Infected++
		}
	}
	return nil
}

func (a *Acquisition) publish(ctx context.Context, reports []domain.CycleReport) {
	if a.notifier == nil || a.dryRun {
		return
	}
	message := buildCycleMessage(reports)
	if message == "" {
		return
	}
	if err := a.notifier.PublishDigest(ctx, message); err != nil && a.logger != nil {
		a.logger.Warn("publish cycle summary failed", "error", err)
	}
}

func (a *Acquisition) sourceLogger(report domain.CycleReport) *slog.Logger {
	log := a.logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return log.With("source", report.Source, "run_id", report.RunID)
}

func packageDir(id string) string {
	name := archive.SafeFileName(id)
	if name == archive.FallbackFileName {
		return "unnamed"
	}
	return name
}

func buildCycleMessage(reports []domain.CycleReport) string {
	var b strings.Builder
	for _, r := range reports {
		if r.Recorded == 0 && r.Infected == 0 && !r.RateLimited {
			continue
		}
		fmt.Fprintf(&b, "- %s: %d kept, %d infected, %d rejected from %d downloads", r.Source, r.Kept, r.Infected, r.Rejected, r.Downloaded)
		if r.RateLimited {
			b.WriteString(" (rate limited)")
		}
		b.WriteString("\n")
	}
	return b.String()
}
