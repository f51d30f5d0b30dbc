// Package diskguard reports filesystem usage for the acquisition precondition.
package diskguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"PECorpus/internal/ports"
)

// Usage is a filesystem's capacity snapshot in bytes.
type Usage struct {
	Total uint64
	Free  uint64
	Used  uint64
}

// Ratio is Used/Total, or 0 for an empty filesystem.
func (u Usage) Ratio() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Total)
}

// Statfs measures the filesystem holding a path.
type Statfs struct{}

var _ ports.DiskUsage = Statfs{}

// UsedRatio returns the used fraction of the filesystem holding path. A path
// that does not exist yet is measured at its nearest existing ancestor.
func (Statfs) UsedRatio(path string) (float64, error) {
	u, err := Measure(path)
	if err != nil {
		return 0, err
	}
	return u.Ratio(), nil
}

// Measure returns the usage of the filesystem holding path.
func Measure(path string) (Usage, error) {
	p, err := existingAncestor(path)
	if err != nil {
		return Usage{}, err
	}
	u, err := statfs(p)
	if err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", p, err)
	}
	return u, nil
}

func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	for {
		_, err := os.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		p = parent
	}
}
