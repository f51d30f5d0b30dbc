package sources

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"PECorpus/internal/catalog"
	"PECorpus/internal/domain"
	"PECorpus/internal/infrastructure/httpfetch"
	"PECorpus/internal/state"
)

const (
	PortableAppsName    = "portableapps"
	PortableAppsBaseURL = "https://portableapps.com/apps"

	// AllCategories matches every heading of the directory.
	AllCategories = "*"
)

// PortableAppsConfig configures directory scraping.
type PortableAppsConfig struct {
	BaseURL    string
	Categories []string
	PageSize   int
}

// PortableApps scrapes the PortableApps.com directory. Each configured
// category is a query; the cursor is an offset into that category's listing.
type PortableApps struct {
	client *httpfetch.Client
	cfg    PortableAppsConfig
	base   *url.URL
	logger *slog.Logger
}

var _ catalog.Adapter = (*PortableApps)(nil)

// NewPortableApps fills defaults: portableapps.com/apps, all categories, 5 apps per call.
func NewPortableApps(client *httpfetch.Client, cfg PortableAppsConfig, log *slog.Logger) (*PortableApps, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = PortableAppsBaseURL
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = []string{AllCategories}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("portableapps base url: %w", err)
	}
	return &PortableApps{client: client, cfg: cfg, base: base, logger: log}, nil
}

func (p *PortableApps) Name() string { return PortableAppsName }

func (p *PortableApps) Dir() string { return "portableapps" }

func (p *PortableApps) CursorSpec() state.Spec {
	return state.Spec{Initial: 0, Step: p.cfg.PageSize}
}

func (p *PortableApps) Queries() []string { return p.cfg.Categories }

// Discover lists the apps under every heading matching category and returns
// the window [offset, offset+PageSize).
func (p *PortableApps) Discover(ctx context.Context, category string, offset int) ([]domain.Candidate, error) {
	doc, err := p.fetchDocument(ctx, p.base.String())
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}

	apps := p.extractApps(doc, category)
	debug(p.logger, "directory parsed", "category", category, "apps", len(apps), "offset", offset)

	if offset < 0 || offset >= len(apps) {
		return nil, nil
	}
	end := offset + p.cfg.PageSize
	if end > len(apps) {
		end = len(apps)
	}
	return apps[offset:end], nil
}

func (p *PortableApps) extractApps(doc *goquery.Document, category string) []domain.Candidate {
	var (
		apps []domain.Candidate
		seen = map[string]struct{}{}
	)

	doc.Find("h2").Each(func(_ int, h2 *goquery.Selection) {
		if !matchesCategory(strings.TrimSpace(h2.Text()), category) {
			return
		}

		section := h2.ParentsFiltered("div.view-grouping").First()
		if section.Length() == 0 {
			section = h2.Parent()
		}

		section.Find(`a[href^="/apps/"]`).Each(func(_ int, link *goquery.Selection) {
			name := strings.TrimSpace(link.Text())
			if strings.Contains(name, "View by Category") || len(name) < 2 {
				return
			}
			href, _ := link.Attr("href")
			pageURL := p.absolute(href)
			if _, ok := seen[pageURL]; ok {
				return
			}
			seen[pageURL] = struct{}{}
			apps = append(apps, domain.Candidate{ID: appDirName(name), Ref: pageURL})
		})
	})
	return apps
}

// Resolve follows the app page's "Download from" link to the intermediate
// /downloading page and picks the real download link from it.
func (p *PortableApps) Resolve(ctx context.Context, c domain.Candidate) ([]string, error) {
	doc, err := p.fetchDocument(ctx, c.Ref)
	if err != nil {
		return nil, fmt.Errorf("app page %s: %w", c.Ref, err)
	}

	var downloading string
	doc.Find("a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if strings.Contains(link.Text(), "Download from") && strings.Contains(href, "/downloading") {
			downloading = p.absolute(href)
			return false
		}
		return true
	})

	if downloading != "" {
		direct, err := p.directLink(ctx, downloading)
		if domain.OutcomeOf(err) == domain.OutcomeRateLimited {
			return nil, err
		}
		if err != nil {
			debug(p.logger, "redirect page failed, using it as the download", "url", downloading, "error", err)
		}
		if direct != "" {
			return []string{direct}, nil
		}
		return []string{downloading}, nil
	}

	if href, ok := doc.Find("a.download-link").First().Attr("href"); ok && href != "" {
		return []string{p.absolute(href)}, nil
	}

	debug(p.logger, "no download link", "app", c.ID)
	return nil, nil
}

func (p *PortableApps) directLink(ctx context.Context, downloading string) (string, error) {
	doc, err := p.fetchDocument(ctx, downloading)
	if err != nil {
		return "", err
	}
	var direct string
	doc.Find("a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if strings.Contains(href, "sourceforge.net") || strings.Contains(href, ".paf.exe") || strings.Contains(href, "/redir") {
			direct = p.absolute(href)
			return false
		}
		return true
	})
	return direct, nil
}

func (p *PortableApps) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	resp, err := p.client.Get(ctx, pageURL, pageTimeout)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, domain.WithOutcome(domain.OutcomePermanent, fmt.Errorf("parse document: %w", err))
	}
	return doc, nil
}

func (p *PortableApps) absolute(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return p.base.ResolveReference(ref).String()
}

func matchesCategory(heading, category string) bool {
	if category == AllCategories || category == "" {
		return true
	}
	return strings.Contains(strings.ToLower(heading), strings.ToLower(category))
}

func appDirName(name string) string {
	return strings.NewReplacer(" ", "_", "/", "_", `\`, "_").Replace(name)
}
