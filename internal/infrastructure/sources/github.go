package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"PECorpus/internal/catalog"
	"PECorpus/internal/domain"
	"PECorpus/internal/infrastructure/httpfetch"
	"PECorpus/internal/state"
)

const (
	GitHubName   = "github"
	GitHubAPIURL = "https://api.github.com"

	// searchWindow is how many results the search API serves per query.
	searchWindow = 1000
)

// DefaultAssetExtensions are the release assets worth downloading.
var DefaultAssetExtensions = []string{".exe", ".dll", ".zip", ".msi"}

// GitHubConfig configures repository search and asset selection.
type GitHubConfig struct {
	APIURL          string
	Queries         []string
	MinStars        int
	PerPage         int
	AssetExtensions []string
}

// GitHub discovers popular repositories through the search API and resolves
// them to the assets of their latest release.
type GitHub struct {
	client *httpfetch.Client
	cfg    GitHubConfig
	logger *slog.Logger
}

var _ catalog.Adapter = (*GitHub)(nil)

// NewGitHub fills defaults: api.github.com, topic:windows, 500 stars, 10 per page.
func NewGitHub(client *httpfetch.Client, cfg GitHubConfig, log *slog.Logger) *GitHub {
	if cfg.APIURL == "" {
		cfg.APIURL = GitHubAPIURL
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if len(cfg.Queries) == 0 {
		cfg.Queries = []string{"topic:windows"}
	}
	if cfg.MinStars <= 0 {
		cfg.MinStars = 500
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 10
	}
	if len(cfg.AssetExtensions) == 0 {
		cfg.AssetExtensions = DefaultAssetExtensions
	}
	return &GitHub{client: client, cfg: cfg, logger: log}
}

// Name identifies the source inside the registry and the state files.
func (g *GitHub) Name() string { return GitHubName }

// Dir is the corpus subdirectory for GitHub artifacts.
func (g *GitHub) Dir() string { return "github_release" }

// CursorSpec walks search result pages starting at 1.
func (g *GitHub) CursorSpec() state.Spec { return state.Spec{Initial: 1, Step: 1} }

// Queries returns the configured search queries.
func (g *GitHub) Queries() []string { return g.cfg.Queries }

type searchResponse struct {
	Items []struct {
		FullName string `json:"full_name"`
	} `json:"items"`
}

// Discover returns one page of repositories matching query.
func (g *GitHub) Discover(ctx context.Context, query string, page int) ([]domain.Candidate, error) {
	params := url.Values{}
	params.Set("sort", "stars")
	params.Set("order", "desc")
	params.Set("per_page", strconv.Itoa(g.cfg.PerPage))
	params.Set("page", strconv.Itoa(page))
	q := url.QueryEscape(fmt.Sprintf("%s stars:>%d", query, g.cfg.MinStars))
	searchURL := fmt.Sprintf("%s/search/repositories?q=%s&%s", g.cfg.APIURL, q, params.Encode())

	var body searchResponse
	if err := getJSON(ctx, g.client, searchURL, searchTimeout, &body); err != nil {
		if httpfetch.StatusOf(err) == http.StatusUnprocessableEntity {
			// Past the search window 422 marks the end of the listing; inside
			// it the query itself was refused.
			if page*g.cfg.PerPage > searchWindow {
				debug(g.logger, "search window exhausted", "query", query, "page", page)
				return nil, nil
			}
			if g.logger != nil {
				g.logger.Warn("search query rejected", "query", query, "page", page, "error", err)
			}
			return nil, domain.WithOutcome(domain.OutcomePermanent,
				fmt.Errorf("search %q page %d: query rejected: %w", query, page, err))
		}
		return nil, fmt.Errorf("search %q page %d: %w", query, page, err)
	}

	seen := map[string]struct{}{}
	candidates := make([]domain.Candidate, 0, len(body.Items))
	for _, item := range body.Items {
		if item.FullName == "" {
			continue
		}
		if _, ok := seen[item.FullName]; ok {
			continue
		}
		seen[item.FullName] = struct{}{}
		candidates = append(candidates, domain.Candidate{
			ID:  path.Base(item.FullName),
			Ref: item.FullName,
		})
	}
	debug(g.logger, "search page", "query", query, "page", page, "repos", len(candidates))
	return candidates, nil
}

type releaseResponse struct {
	Assets []struct {
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// Resolve lists the latest release assets with an allowed extension. A
// repository without releases resolves to nothing.
func (g *GitHub) Resolve(ctx context.Context, c domain.Candidate) ([]string, error) {
	releaseURL := fmt.Sprintf("%s/repos/%s/releases/latest", g.cfg.APIURL, c.Ref)

	var body releaseResponse
	if err := getJSON(ctx, g.client, releaseURL, searchTimeout, &body); err != nil {
		if httpfetch.StatusOf(err) == http.StatusNotFound {
			debug(g.logger, "no releases", "repo", c.Ref)
			return nil, nil
		}
		return nil, fmt.Errorf("latest release of %s: %w", c.Ref, err)
	}

	var urls []string
	for _, asset := range body.Assets {
		if asset.BrowserDownloadURL != "" && hasExtension(asset.BrowserDownloadURL, g.cfg.AssetExtensions) {
			urls = append(urls, asset.BrowserDownloadURL)
		}
	}
	return urls, nil
}
