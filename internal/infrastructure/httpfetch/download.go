package httpfetch

import (
	"context"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"PECorpus/internal/domain"
	"PECorpus/internal/ports"
)

// DefaultDownloadTimeout bounds a single artifact download.
const DefaultDownloadTimeout = 60 * time.Second

// Downloader implements ports.Downloader on top of Client.
type Downloader struct {
	client  *Client
	timeout time.Duration
}

var _ ports.Downloader = (*Downloader)(nil)

// NewDownloader wires a client; timeout <= 0 uses DefaultDownloadTimeout.
func NewDownloader(client *Client, timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	return &Downloader{client: client, timeout: timeout}
}

// Download fetches rawURL and derives the file name to store it under.
func (d *Downloader) Download(ctx context.Context, rawURL string) (domain.Payload, error) {
	resp, err := d.client.Get(ctx, rawURL, d.timeout)
	if err != nil {
		return domain.Payload{}, err
	}
	return domain.Payload{
		URL:      rawURL,
		FileName: FileName(rawURL, resp.FinalURL, resp.Header.Get("Content-Disposition")),
		Data:     resp.Body,
	}, nil
}

// FileName picks a download's name: an explicit f= query parameter, then the
// Content-Disposition filename, then the last path segment of the final or
// requested URL. Redirect stubs ("redir2", "download") are not names.
func FileName(requested, final, disposition string) string {
	for _, raw := range []string{requested, final} {
		if u, err := url.Parse(raw); err == nil {
			if f := u.Query().Get("f"); f != "" {
				return path.Base(f)
			}
		}
	}

	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return path.Base(strings.ReplaceAll(params["filename"], `\`, "/"))
		}
	}

	for _, raw := range []string{final, requested} {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		name := path.Base(u.Path)
		if usableName(name) {
			return name
		}
	}
	return ""
}

func usableName(name string) bool {
	switch strings.ToLower(name) {
	case "", ".", "/", "redir", "redir2", "download", "downloading":
		return false
	}
	return true
}
