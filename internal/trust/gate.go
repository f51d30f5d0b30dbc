// Package trust admits artifacts into the corpus. Stage 1 is the structural
// PE check, stage 2 the malware scan, stage 3 the signature annotation. Each
// external stage declares whether a tool failure keeps (fail-open) or drops
// (fail-closed) its positive outcome.
package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"PECorpus/internal/domain"
	"PECorpus/internal/pe"
	"PECorpus/internal/ports"
)

// Decision is the gate's verdict for one file.
type Decision struct {
	Path      string
	State     domain.ArtifactState
	Verdict   domain.ScanVerdict
	Signature domain.SignatureStatus
	Deleted   bool
}

// Kept reports whether the artifact stays in the corpus.
func (d Decision) Kept() bool { return d.State == domain.StateKept }

// Gate runs the trust pipeline. A nil scanner or signer disables that stage.
type Gate struct {
	scanner  ports.Scanner
	signer   ports.SignatureChecker
	validate func(path string) bool
	logger   *slog.Logger
}

// NewGate wires the external verifiers. The structural check is pe.IsValidFile.
func NewGate(scanner ports.Scanner, signer ports.SignatureChecker, log *slog.Logger) *Gate {
	return &Gate{
		scanner:  scanner,
		signer:   signer,
		validate: pe.IsValidFile,
		logger:   log,
	}
}

// Admit runs all three stages. The returned error is non-nil only when a
// rejected file could not be removed.
func (g *Gate) Admit(ctx context.Context, path string) (Decision, error) {
	d := Decision{Path: path, State: domain.StateExtracted}
	if !g.validate(path) {
		d.State = domain.StateRejected
		g.warn("not a valid PE, deleting", "path", path)
		return g.remove(d)
	}
	return g.Screen(ctx, path)
}

// Screen runs stages 2 and 3 on a file that already passed the structural check.
func (g *Gate) Screen(ctx context.Context, path string) (Decision, error) {
	d := Decision{Path: path, State: domain.StateValidated}

	d.Verdict = g.scan(ctx, path)
	if d.Verdict == domain.ScanInfected {
		d.State = domain.StateInfected
		g.warn("malware detected, deleting", "path", path)
		return g.remove(d)
	}
	if d.Verdict == domain.ScanError && g.scanner.Policy() == domain.FailClosed {
		d.State = domain.StateInfected
		g.warn("scan failed, deleting", "path", path, "policy", domain.FailClosed)
		return g.remove(d)
	}

	d.Signature = g.signature(ctx, path)
	d.State = domain.StateKept
	if g.logger != nil {
		g.logger.Info("artifact kept", "path", path, "scan", d.Verdict, "signature", d.Signature)
	}
	return d, nil
}

func (g *Gate) scan(ctx context.Context, path string) domain.ScanVerdict {
	if g.scanner == nil {
		return domain.ScanClean
	}
	verdict, err := g.scanner.Scan(ctx, path)
	if err != nil && verdict != domain.ScanInfected {
		verdict = domain.ScanError
	}
	if verdict == domain.ScanError && g.scanner.Policy() == domain.FailOpen {
		g.warn("scan failed, keeping artifact", "path", path, "scanner", g.scanner.Name(),
			"policy", domain.FailOpen, "error", err)
	}
	return verdict
}

func (g *Gate) signature(ctx context.Context, path string) domain.SignatureStatus {
	if g.signer == nil {
		return domain.Unsigned
	}
	status, err := g.signer.Check(ctx, path)
	if err == nil && status != domain.VerifyError {
		return status
	}
	if g.logger != nil {
		g.logger.Debug("signature check failed", "path", path, "tool", g.signer.Name(),
			"policy", g.signer.Policy(), "error", err)
	}
	if g.signer.Policy() == domain.FailOpen {
		return domain.Signed
	}
	return domain.Unsigned
}

func (g *Gate) remove(d Decision) (Decision, error) {
	if err := os.Remove(d.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return d, fmt.Errorf("delete %s: %w", d.Path, err)
	}
	d.Deleted = true
	return d, nil
}

func (g *Gate) warn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}
