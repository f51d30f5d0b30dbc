package verifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PECorpus/internal/domain"
)

const (
	DefaultSignatureCommand = "osslsigncode"
	DefaultSignatureToken   = "Signature verification: ok"
	DefaultSignatureTimeout = 30 * time.Second
)

// DefaultSignatureArgs verify the Authenticode signature embedded in a PE.
var DefaultSignatureArgs = []string{"verify", "-in", FilePlaceholder}

// SignatureTool reports signed when the tool exits 0 or prints the success
// token. Its policy is fail-closed: a missing tool, timeout or failure means
// unsigned. The result is informational only.
type SignatureTool struct {
	command string
	args    []string
	token   string
	timeout time.Duration
	runner  CommandRunner
}

// SignatureConfig configures SignatureTool; zero values take the defaults.
type SignatureConfig struct {
	Command string
	Args    []string
	Token   string
	Timeout time.Duration
}

// NewSignatureTool builds a checker; runner may be nil for ExecRunner.
func NewSignatureTool(cfg SignatureConfig, runner CommandRunner) *SignatureTool {
	if cfg.Command == "" {
		cfg.Command = DefaultSignatureCommand
		if cfg.Token == "" {
			cfg.Token = DefaultSignatureToken
		}
	}
	if len(cfg.Args) == 0 {
		cfg.Args = DefaultSignatureArgs
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSignatureTimeout
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &SignatureTool{
		command: cfg.Command,
		args:    cfg.Args,
		token:   cfg.Token,
		timeout: cfg.Timeout,
		runner:  runner,
	}
}

// Name identifies the tool in logs.
func (s *SignatureTool) Name() string { return s.command }

// Policy is domain.FailClosed.
func (s *SignatureTool) Policy() domain.Policy { return domain.FailClosed }

// Check returns Signed or Unsigned. A tool that could not run returns Unsigned
// together with the reason.
func (s *SignatureTool) Check(ctx context.Context, path string) (domain.SignatureStatus, error) {
	res := s.runner.Run(ctx, s.timeout, s.command, expandArgs(s.args, path)...)
	if res.Err == nil {
		return domain.Signed, nil
	}
	if s.token != "" && strings.Contains(res.Output, s.token) {
		return domain.Signed, nil
	}
	if res.TimedOut || res.ExitCode < 0 {
		return domain.Unsigned, fmt.Errorf("%s: %w", s.command, res.Err)
	}
	return domain.Unsigned, nil
}
