// Package sources holds the catalog adapters: GitHub release feeds, the
// NuGet search API and the PortableApps.com directory.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"PECorpus/internal/domain"
	"PECorpus/internal/infrastructure/httpfetch"
)

const (
	searchTimeout = 15 * time.Second
	pageTimeout   = 20 * time.Second
)

func getJSON(ctx context.Context, client *httpfetch.Client, rawURL string, timeout time.Duration, v any) error {
	resp, err := client.Get(ctx, rawURL, timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return domain.WithOutcome(domain.OutcomePermanent, fmt.Errorf("decode %s: %w", rawURL, err))
	}
	return nil
}

func hasExtension(rawURL string, exts []string) bool {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	p = strings.ToLower(p)
	for _, ext := range exts {
		if strings.HasSuffix(p, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func debug(log *slog.Logger, msg string, args ...any) {
	if log != nil {
		log.Debug(msg, args...)
	}
}
