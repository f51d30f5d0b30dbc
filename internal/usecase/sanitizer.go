package usecase

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"PECorpus/internal/domain"
	"PECorpus/internal/janitor"
	"PECorpus/internal/ports"
	"PECorpus/internal/trust"
)

// MetadataDirName is the corpus subdirectory holding ledgers and cursors.
const MetadataDirName = "metadata"

// Sanitizer re-applies the trust gate to every file already in the corpus
// and prunes the directories left empty.
type Sanitizer struct {
	gate     *trust.Gate
	notifier ports.Notifier
	logger   *slog.Logger
}

// NewSanitizer constructs the sanitizer use case.
func NewSanitizer(gate *trust.Gate, notifier ports.Notifier, log *slog.Logger) *Sanitizer {
	return &Sanitizer{gate: gate, notifier: notifier, logger: log}
}

// Run walks root, skipping the metadata subtree. A second run over an
// unchanged corpus deletes nothing.
func (s *Sanitizer) Run(ctx context.Context, root string) (domain.SanitizeStats, error) {
	var stats domain.SanitizeStats
	if s.gate == nil {
		return stats, fmt.Errorf("trust gate is not configured")
	}
	info, err := os.Stat(root)
	if err != nil {
		return stats, fmt.Errorf("corpus root: %w", err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("corpus root %s is not a directory", root)
	}

	metadata := filepath.Join(root, MetadataDirName)
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			s.debug("walk error", "path", p, "error", err)
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p == metadata {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		stats.Total++
		decision, err := s.gate.Admit(ctx, p)
		if err != nil {
			s.warn("delete failed", "path", p, "error", err)
			return nil
		}
		switch decision.State {
		case domain.StateRejected:
			stats.DeletedPE++
		case domain.StateInfected:
			stats.DeletedMalware++
		case domain.StateKept:
			stats.Kept++
			if decision.Signature == domain.Signed {
				stats.Signed++
			}
		}
		return nil
	})
	if walkErr != nil {
		return stats, fmt.Errorf("walk corpus: %w", walkErr)
	}

	stats.RemovedDirs = janitor.RemoveEmptyDirs(root, metadata)

	if s.logger != nil {
		s.logger.Info("sanitize done",
			"total", stats.Total,
			"kept", stats.Kept,
			"signed", stats.Signed,
			"deleted_pe", stats.DeletedPE,
			"deleted_malware", stats.DeletedMalware,
			"removed_dirs", stats.RemovedDirs)
	}
	s.publish(ctx, stats)
	return stats, nil
}

func (s *Sanitizer) publish(ctx context.Context, stats domain.SanitizeStats) {
	if s.notifier == nil || stats.DeletedPE+stats.DeletedMalware == 0 {
		return
	}
	msg := fmt.Sprintf("Sanitizer: %d files checked, %d kept (%d signed), %d invalid PE and %d malware deleted",
		stats.Total, stats.Kept, stats.Signed, stats.DeletedPE, stats.DeletedMalware)
	if err := s.notifier.PublishDigest(ctx, msg); err != nil {
		s.warn("publish sanitize summary failed", "error", err)
	}
}

func (s *Sanitizer) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Sanitizer) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
