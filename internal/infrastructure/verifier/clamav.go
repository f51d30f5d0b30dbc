package verifier

import (
	"context"
	"fmt"
	"time"

	"PECorpus/internal/domain"
)

const (
	DefaultScannerCommand = "clamscan"
	DefaultScannerTimeout = 5 * time.Minute
)

// DefaultScannerArgs keep clamscan output to the per-file verdict line.
var DefaultScannerArgs = []string{"--no-summary", FilePlaceholder}

// ClamScanner maps clamscan exit codes: 0 clean, 1 infected, anything else
// (including a missing binary or timeout) is a scan error. Its policy is
// fail-open: a scan error keeps the artifact.
type ClamScanner struct {
	command string
	args    []string
	timeout time.Duration
	runner  CommandRunner
}

// ScannerConfig configures ClamScanner; zero values take the defaults.
type ScannerConfig struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// NewClamScanner builds a scanner; runner may be nil for ExecRunner.
func NewClamScanner(cfg ScannerConfig, runner CommandRunner) *ClamScanner {
	if cfg.Command == "" {
		cfg.Command = DefaultScannerCommand
	}
	if len(cfg.Args) == 0 {
		cfg.Args = DefaultScannerArgs
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultScannerTimeout
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ClamScanner{command: cfg.Command, args: cfg.Args, timeout: cfg.Timeout, runner: runner}
}

// Name identifies the tool in logs.
func (s *ClamScanner) Name() string { return s.command }

// Policy is domain.FailOpen.
func (s *ClamScanner) Policy() domain.Policy { return domain.FailOpen }

// Scan runs the scanner on path. The error explains a ScanError verdict.
func (s *ClamScanner) Scan(ctx context.Context, path string) (domain.ScanVerdict, error) {
	res := s.runner.Run(ctx, s.timeout, s.command, expandArgs(s.args, path)...)
	if res.Err == nil {
		return domain.ScanClean, nil
	}
	if res.ExitCode == 1 {
		return domain.ScanInfected, nil
	}
	if res.ExitCode > 1 {
		return domain.ScanError, fmt.Errorf("%s exited with %d", s.command, res.ExitCode)
	}
	return domain.ScanError, res.Err
}
