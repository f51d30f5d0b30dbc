// Package doctor prints a host readiness report: platform, disk usage of the
// corpus filesystem, external tool availability and catalog reachability.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"PECorpus/internal/diskguard"
)

// Target is a catalog endpoint probed for connectivity.
type Target struct {
	Name string
	URL  string
}

// DefaultTargets are the public catalogs the crawler talks to.
var DefaultTargets = []Target{
	{Name: "GitHub API", URL: "https://api.github.com"},
	{Name: "NuGet V3", URL: "https://api.nuget.org/v3/index.json"},
	{Name: "PortableApps", URL: "https://portableapps.com"},
}

// ToolStatus records whether a subprocess is on PATH.
type ToolStatus struct {
	Name      string
	Available bool
}

// TargetStatus is the probe result of one Target.
type TargetStatus struct {
	Target
	Status string
	OK     bool
}

// Report is everything the doctor subcommand prints.
type Report struct {
	OS        string
	Arch      string
	UID       int
	WorkDir   string
	CorpusDir string
	Disk      diskguard.Usage
	DiskErr   error
	Threshold float64
	Tools     []ToolStatus
	Network   []TargetStatus
}

// Checker gathers a Report. Zero fields take production defaults.
type Checker struct {
	CorpusDir string
	Threshold float64
	Tools     []string
	Targets   []Target
	Client    *http.Client
	Measure   func(path string) (diskguard.Usage, error)
	Lookup    func(name string) bool
}

// Run collects the report. Probe failures are part of the report, not errors.
func (c Checker) Run(ctx context.Context) Report {
	measure := c.Measure
	if measure == nil {
		measure = diskguard.Measure
	}
	lookup := c.Lookup
	if lookup == nil {
		lookup = func(string) bool { return false }
	}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	targets := c.Targets
	if targets == nil {
		targets = DefaultTargets
	}

	wd, _ := os.Getwd()
	r := Report{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		UID:       os.Getuid(),
		WorkDir:   wd,
		CorpusDir: c.CorpusDir,
		Threshold: c.Threshold,
	}
	r.Disk, r.DiskErr = measure(c.CorpusDir)

	for _, tool := range c.Tools {
		r.Tools = append(r.Tools, ToolStatus{Name: tool, Available: lookup(tool)})
	}
	for _, t := range targets {
		r.Network = append(r.Network, probe(ctx, client, t))
	}
	return r
}

func probe(ctx context.Context, client *http.Client, t Target) TargetStatus {
	st := TargetStatus{Target: t}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		st.Status = fmt.Sprintf("Failed (%v)", err)
		return st
	}
	resp, err := client.Do(req)
	if err != nil {
		st.Status = fmt.Sprintf("Failed (%T)", err)
		return st
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		st.Status, st.OK = "OK", true
		return st
	}
	st.Status = fmt.Sprintf("HTTP %d", resp.StatusCode)
	return st
}

// Healthy reports whether a crawl could start: disk below threshold and
// every catalog reachable.
func (r Report) Healthy() bool {
	if r.DiskErr != nil || (r.Threshold > 0 && r.Disk.Ratio() >= r.Threshold) {
		return false
	}
	for _, n := range r.Network {
		if !n.OK {
			return false
		}
	}
	return true
}

// Write renders the report as plain text.
func (r Report) Write(w io.Writer) error {
	var b strings.Builder
	b.WriteString("=== PECorpus Diagnostic Report ===\n")

	b.WriteString("\n[System]\n")
	fmt.Fprintf(&b, "OS: %s\nMachine: %s\n", r.OS, r.Arch)

	b.WriteString("\n[Disk Usage]\n")
	if r.DiskErr != nil {
		fmt.Fprintf(&b, "Error: %v\n", r.DiskErr)
	} else {
		fmt.Fprintf(&b, "Path: %s\n", r.CorpusDir)
		fmt.Fprintf(&b, "Total: %s\n", humanize.IBytes(r.Disk.Total))
		fmt.Fprintf(&b, "Used: %s (%.1f%%)\n", humanize.IBytes(r.Disk.Used), r.Disk.Ratio()*100)
		fmt.Fprintf(&b, "Free: %s\n", humanize.IBytes(r.Disk.Free))
		if r.Threshold > 0 {
			fmt.Fprintf(&b, "Threshold: %.1f%%\n", r.Threshold*100)
		}
	}

	b.WriteString("\n[Environment]\n")
	fmt.Fprintf(&b, "User ID: %d\nWorking Dir: %s\n", r.UID, r.WorkDir)
	for _, t := range r.Tools {
		status := "Missing"
		if t.Available {
			status = "Installed"
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Name, status)
	}

	b.WriteString("\n[Network Connectivity]\n")
	for _, n := range r.Network {
		fmt.Fprintf(&b, "%s: %s\n", n.Name, n.Status)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
