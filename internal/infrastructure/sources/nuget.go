package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"PECorpus/internal/catalog"
	"PECorpus/internal/domain"
	"PECorpus/internal/infrastructure/httpfetch"
	"PECorpus/internal/state"
)

const (
	NuGetName           = "nuget"
	NuGetSearchURL      = "https://azuresearch-usnc.nuget.org/query"
	NuGetPackageBaseURL = "https://www.nuget.org/api/v2/package"
)

// NuGetConfig configures the package search.
type NuGetConfig struct {
	SearchURL      string
	PackageBaseURL string
	Queries        []string
	Take           int
}

// NuGet pages through the NuGet search API. Packages are zip archives
// (.nupkg) whose download URL is built from id and version.
type NuGet struct {
	client *httpfetch.Client
	cfg    NuGetConfig
	logger *slog.Logger
}

var _ catalog.Adapter = (*NuGet)(nil)

// NewNuGet fills defaults: the public search endpoint, tags:chocolatey, 5 per call.
func NewNuGet(client *httpfetch.Client, cfg NuGetConfig, log *slog.Logger) *NuGet {
	if cfg.SearchURL == "" {
		cfg.SearchURL = NuGetSearchURL
	}
	if cfg.PackageBaseURL == "" {
		cfg.PackageBaseURL = NuGetPackageBaseURL
	}
	cfg.PackageBaseURL = strings.TrimSuffix(cfg.PackageBaseURL, "/")
	if len(cfg.Queries) == 0 {
		cfg.Queries = []string{"tags:chocolatey"}
	}
	if cfg.Take <= 0 {
		cfg.Take = 5
	}
	return &NuGet{client: client, cfg: cfg, logger: log}
}

func (n *NuGet) Name() string { return NuGetName }

func (n *NuGet) Dir() string { return "chocolatey" }

// CursorSpec is a skip offset advancing by the page size.
func (n *NuGet) CursorSpec() state.Spec { return state.Spec{Initial: 0, Step: n.cfg.Take} }

func (n *NuGet) Queries() []string { return n.cfg.Queries }

type nugetSearchResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Version string `json:"version"`
	} `json:"data"`
}

// Discover returns up to Take packages starting at skip.
func (n *NuGet) Discover(ctx context.Context, query string, skip int) ([]domain.Candidate, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("skip", strconv.Itoa(skip))
	params.Set("take", strconv.Itoa(n.cfg.Take))
	params.Set("prerelease", "false")
	searchURL := n.cfg.SearchURL + "?" + params.Encode()

	var body nugetSearchResponse
	if err := getJSON(ctx, n.client, searchURL, searchTimeout, &body); err != nil {
		return nil, fmt.Errorf("search %q skip %d: %w", query, skip, err)
	}

	candidates := make([]domain.Candidate, 0, len(body.Data))
	for _, item := range body.Data {
		if item.ID == "" || item.Version == "" {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			ID:  item.ID,
			Ref: item.ID + "@" + item.Version,
			DownloadURLs: []string{
				fmt.Sprintf("%s/%s/%s", n.cfg.PackageBaseURL, url.PathEscape(item.ID), url.PathEscape(item.Version)),
			},
		})
	}
	debug(n.logger, "search page", "query", query, "skip", skip, "packages", len(candidates))
	return candidates, nil
}

// Resolve returns the URL built during discovery.
func (n *NuGet) Resolve(_ context.Context, c domain.Candidate) ([]string, error) {
	return c.DownloadURLs, nil
}
