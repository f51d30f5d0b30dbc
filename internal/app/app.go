package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"PECorpus/internal/archive"
	"PECorpus/internal/catalog"
	"PECorpus/internal/config"
	"PECorpus/internal/diskguard"
	"PECorpus/internal/doctor"
	"PECorpus/internal/domain"
	"PECorpus/internal/infrastructure/httpfetch"
	"PECorpus/internal/infrastructure/scheduler"
	"PECorpus/internal/infrastructure/sources"
	"PECorpus/internal/infrastructure/storage"
	"PECorpus/internal/infrastructure/telegram"
	"PECorpus/internal/infrastructure/verifier"
	"PECorpus/internal/logging"
	"PECorpus/internal/pe"
	"PECorpus/internal/ports"
	"PECorpus/internal/ratelimit"
	"PECorpus/internal/state"
	"PECorpus/internal/trust"
	"PECorpus/internal/usecase"
)

// CrawlOptions are the per-invocation switches of the crawl subcommand.
type CrawlOptions struct {
	Sources  []string
	Interval time.Duration
	DryRun   bool
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *catalog.Registry
	delays   map[string]time.Duration
	scanner  *verifier.ClamScanner
	signer   *verifier.SignatureTool
	gate     *trust.Gate
	notifier ports.Notifier
	db       *sql.DB
}

// New builds the application from configuration.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	a := &Application{
		cfg:      cfg,
		logger:   baseLogger,
		registry: catalog.NewRegistry(),
		delays:   map[string]time.Duration{},
	}

	if err := a.registerSources(); err != nil {
		return nil, err
	}

	a.scanner = verifier.NewClamScanner(verifier.ScannerConfig{
		Command: cfg.Verifiers.Scanner.Command,
		Args:    cfg.Verifiers.Scanner.Args,
		Timeout: cfg.Verifiers.Scanner.Timeout,
	}, nil)
	a.signer = verifier.NewSignatureTool(verifier.SignatureConfig{
		Command: cfg.Verifiers.Signature.Command,
		Args:    cfg.Verifiers.Signature.Args,
		Token:   cfg.Verifiers.Signature.Token,
		Timeout: cfg.Verifiers.Signature.Timeout,
	}, nil)
	a.gate = trust.NewGate(a.scanner, a.signer, baseLogger.With("component", "trust"))

	if cfg.Notifications.Telegram.Enabled() {
		tg := cfg.Notifications.Telegram
		a.notifier = telegram.NewNotifier(tg.APIURL, tg.BotToken, tg.ChatID)
	}

	return a, nil
}

func (a *Application) registerSources() error {
	src := a.cfg.Sources

	gh := sources.NewGitHub(a.client(src.GitHub.RateLimitCodes,
		httpfetch.WithHeader("Accept", "application/vnd.github.v3+json"),
		httpfetch.WithHeader("Authorization", tokenHeader(src.GitHub.Token)),
	), sources.GitHubConfig{
		APIURL:          src.GitHub.APIURL,
		Queries:         src.GitHub.Queries,
		MinStars:        src.GitHub.MinStars,
		PerPage:         src.GitHub.PerPage,
		AssetExtensions: src.GitHub.AssetExtensions,
	}, a.logger.With("component", "source.github"))
	a.register(gh, src.GitHub.CandidateDelay)

	ng := sources.NewNuGet(a.client(src.NuGet.RateLimitCodes), sources.NuGetConfig{
		SearchURL:      src.NuGet.SearchURL,
		PackageBaseURL: src.NuGet.PackageBaseURL,
		Queries:        src.NuGet.Queries,
		Take:           src.NuGet.Take,
	}, a.logger.With("component", "source.nuget"))
	a.register(ng, src.NuGet.CandidateDelay)

	pa, err := sources.NewPortableApps(a.client(src.PortableApps.RateLimitCodes), sources.PortableAppsConfig{
		BaseURL:    src.PortableApps.BaseURL,
		Categories: src.PortableApps.Categories,
		PageSize:   src.PortableApps.PageSize,
	}, a.logger.With("component", "source.portableapps"))
	if err != nil {
		return err
	}
	a.register(pa, src.PortableApps.CandidateDelay)
	return nil
}

func (a *Application) register(adapter catalog.Adapter, delay time.Duration) {
	a.registry.Register(adapter)
	a.delays[adapter.Name()] = delay
}

func (a *Application) client(codes []int, opts ...httpfetch.Option) *httpfetch.Client {
	h := a.cfg.HTTP
	base := []httpfetch.Option{
		httpfetch.WithGuard(ratelimit.NewGuard(codes...)),
		httpfetch.WithUserAgent(h.UserAgent),
		httpfetch.WithRetry(h.Retries, h.RetryBackoff),
		httpfetch.WithMaxBytes(h.MaxDownloadBytes),
	}
	return httpfetch.New(append(base, opts...)...)
}

func tokenHeader(token string) string {
	if token == "" {
		return ""
	}
	return "token " + token
}

// Crawl runs one acquisition cycle, or keeps running cycles every
// opts.Interval until ctx is cancelled.
func (a *Application) Crawl(ctx context.Context, opts CrawlOptions) error {
	names := opts.Sources
	if len(names) == 0 {
		names = a.cfg.Sources.Enabled
	}
	dryRun := opts.DryRun || !a.cfg.EnableDownload

	adapters, err := a.registry.Select(names)
	if err != nil {
		return err
	}

	cursorStore, ledgerFor, err := a.openState(ctx)
	if err != nil {
		return err
	}

	srcs := make([]usecase.Source, 0, len(adapters))
	selected := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		selected = append(selected, adapter.Name())
		ledger, err := ledgerFor(adapter.Name())
		if err != nil {
			return err
		}
		srcs = append(srcs, usecase.Source{Adapter: adapter, Ledger: ledger, Delay: a.delays[adapter.Name()]})
	}

	cursor, err := state.LoadCursor(ctx, cursorStore)
	if err != nil {
		return err
	}

	acquisition := usecase.NewAcquisition(usecase.AcquisitionDeps{
		Cursor:     cursor,
		Downloader: httpfetch.NewDownloader(a.client(nil), a.cfg.HTTP.DownloadTimeout),
		Extractor: archive.NewExtractor(
			archive.WithAllowedExtensions(a.cfg.Extract.AllowedExtensions),
			archive.WithMaxEntryBytes(a.cfg.Extract.MaxEntryBytes),
			archive.WithValidator(pe.IsValidFile),
			archive.WithLogger(a.logger.With("component", "extract")),
		),
		Gate:          a.gate,
		Disk:          diskguard.Statfs{},
		Notifier:      a.notifier,
		Logger:        a.logger.With("component", "acquisition"),
		CorpusDir:     a.cfg.CorpusDir,
		DiskThreshold: a.cfg.DiskUsageThreshold,
		DryRun:        dryRun,
	})

	a.logger.Info("crawl starting", "sources", selected, "dry_run", dryRun, "interval", opts.Interval)

	if opts.Interval <= 0 {
		_, err := acquisition.RunCycle(ctx, srcs)
		return err
	}

	sched := usecase.NewScheduler(scheduler.NewIntervalScheduler(opts.Interval), acquisition, srcs,
		a.logger.With("component", "scheduler"))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-sched.Failed():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	return runErr
}

// openState selects Postgres when a DSN is configured and JSON files under
// <corpus>/metadata otherwise.
func (a *Application) openState(ctx context.Context) (state.CursorStore, func(string) (state.Ledger, error), error) {
	if dsn := a.cfg.Database.DSN; dsn != "" {
		db, err := storage.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		a.db = db
		repo := storage.NewPostgresRepository(db, a.cfg.Database.Schema)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return repo, func(source string) (state.Ledger, error) { return repo.Ledger(source), nil }, nil
	}

	metadataDir := filepath.Join(a.cfg.CorpusDir, usecase.MetadataDirName)
	if err := os.MkdirAll(metadataDir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create metadata dir: %w", err)
	}
	ledgerFor := func(source string) (state.Ledger, error) {
		return state.OpenJSONLedger(state.LedgerPath(metadataDir, source))
	}
	return state.NewJSONCursorStore(metadataDir), ledgerFor, nil
}

// Sanitize re-checks every artifact already in the corpus.
func (a *Application) Sanitize(ctx context.Context) (domain.SanitizeStats, error) {
	s := usecase.NewSanitizer(a.gate, a.notifier, a.logger.With("component", "sanitizer"))
	return s.Run(ctx, a.cfg.CorpusDir)
}

// Doctor writes the host readiness report and reports whether a crawl could start.
func (a *Application) Doctor(ctx context.Context, w io.Writer) (bool, error) {
	report := doctor.Checker{
		CorpusDir: a.cfg.CorpusDir,
		Threshold: a.cfg.DiskUsageThreshold,
		Tools:     []string{a.scanner.Name(), a.signer.Name()},
		Lookup:    verifier.Available,
	}.Run(ctx)
	if err := report.Write(w); err != nil {
		return false, err
	}
	return report.Healthy(), nil
}

// Close releases the database connection, if any.
func (a *Application) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
