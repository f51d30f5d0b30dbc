package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigFile = "config.yaml"
	configPathEnv     = "PECORPUS_CONFIG"
	databaseDSNEnv    = "PECORPUS_DATABASE_DSN"
	enableDownloadEnv = "PECORPUS_ENABLE_DOWNLOAD"
	logLevelEnv       = "PECORPUS_LOG_LEVEL"
	githubTokenEnv    = "GITHUB_TOKEN"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	CorpusDir          string             `yaml:"corpusDir"`
	EnableDownload     bool               `yaml:"enableDownload"`
	DiskUsageThreshold float64            `yaml:"diskUsageThreshold"`
	Logging            LoggingConfig      `yaml:"logging"`
	Database           DatabaseConfig     `yaml:"database"`
	Scheduler          SchedulerConfig    `yaml:"scheduler"`
	HTTP               HTTPConfig         `yaml:"http"`
	Verifiers          VerifiersConfig    `yaml:"verifiers"`
	Extract            ExtractConfig      `yaml:"extract"`
	Sources            SourcesConfig      `yaml:"sources"`
	Notifications      NotificationConfig `yaml:"notifications"`
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes the optional Postgres state store. An empty DSN
// keeps ledgers and cursors in JSON files under <corpusDir>/metadata.
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
}

// SchedulerConfig defines how often `crawl --interval` repeats.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// HTTPConfig tunes the shared fetcher.
type HTTPConfig struct {
	UserAgent        string        `yaml:"userAgent"`
	Retries          uint64        `yaml:"retries"`
	RetryBackoff     time.Duration `yaml:"retryBackoff"`
	DownloadTimeout  time.Duration `yaml:"downloadTimeout"`
	MaxDownloadBytes int64         `yaml:"maxDownloadBytes"`
}

// VerifiersConfig wires the external scan and signature tools.
type VerifiersConfig struct {
	Scanner   ToolConfig `yaml:"scanner"`
	Signature ToolConfig `yaml:"signature"`
}

// ToolConfig describes one subprocess. "{file}" in Args is replaced with the
// artifact path; without it the path is appended.
type ToolConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// ExtractConfig controls which archive entries are kept.
type ExtractConfig struct {
	AllowedExtensions []string `yaml:"allowedExtensions"`
	MaxEntryBytes     int64    `yaml:"maxEntryBytes"`
}

// SourcesConfig groups the catalog adapters. Enabled lists the sources a
// plain `crawl` polls.
type SourcesConfig struct {
	Enabled      []string           `yaml:"enabled"`
	GitHub       GitHubConfig       `yaml:"github"`
	NuGet        NuGetConfig        `yaml:"nuget"`
	PortableApps PortableAppsConfig `yaml:"portableapps"`
}

// GitHubConfig configures repository search.
type GitHubConfig struct {
	APIURL          string        `yaml:"apiUrl"`
	Token           string        `yaml:"token"`
	Queries         []string      `yaml:"queries"`
	MinStars        int           `yaml:"minStars"`
	PerPage         int           `yaml:"perPage"`
	AssetExtensions []string      `yaml:"assetExtensions"`
	CandidateDelay  time.Duration `yaml:"candidateDelay"`
	RateLimitCodes  []int         `yaml:"rateLimitCodes"`
}

// NuGetConfig configures the NuGet/Chocolatey search.
type NuGetConfig struct {
	SearchURL      string        `yaml:"searchUrl"`
	PackageBaseURL string        `yaml:"packageBaseUrl"`
	Queries        []string      `yaml:"queries"`
	Take           int           `yaml:"take"`
	CandidateDelay time.Duration `yaml:"candidateDelay"`
	RateLimitCodes []int         `yaml:"rateLimitCodes"`
}

// PortableAppsConfig configures directory scraping.
type PortableAppsConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	Categories     []string      `yaml:"categories"`
	PageSize       int           `yaml:"pageSize"`
	CandidateDelay time.Duration `yaml:"candidateDelay"`
	RateLimitCodes []int         `yaml:"rateLimitCodes"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	APIURL   string `yaml:"apiUrl"`
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both token and chat are set.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// Load reads YAML configuration (if present) and applies environment
// overrides. path wins over PECORPUS_CONFIG, which wins over ./config.yaml.
func Load(path string) Config {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(configPathEnv)
		explicit = path != ""
	}
	if path == "" {
		path = defaultConfigFile
	}

	if raw, err := os.ReadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		}
	} else {
		// Decoding onto the defaults keeps every key the file leaves out.
		fileCfg := defaultConfig()
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = fileCfg
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(githubTokenEnv); v != "" {
		c.Sources.GitHub.Token = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(enableDownloadEnv); v != "" {
		if enabled, err := strconv.ParseBool(v); err != nil {
			log.Printf("config: ignoring %s=%q: %v", enableDownloadEnv, v, err)
		} else {
			c.EnableDownload = enabled
		}
	}
}

// Validate rejects settings the acquisition cycle cannot run with.
func (c Config) Validate() error {
	if c.CorpusDir == "" {
		return fmt.Errorf("corpusDir must be set")
	}
	if c.DiskUsageThreshold <= 0 || c.DiskUsageThreshold > 1 {
		return fmt.Errorf("diskUsageThreshold must be in (0, 1], got %v", c.DiskUsageThreshold)
	}
	if c.Scheduler.Interval < 0 {
		return fmt.Errorf("scheduler.interval must not be negative")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		CorpusDir:          "benign_pe",
		EnableDownload:     false,
		DiskUsageThreshold: 0.7,
		Logging:            LoggingConfig{Level: "info", Format: "text"},
		Scheduler:          SchedulerConfig{Interval: 24 * time.Hour},
		HTTP: HTTPConfig{
			UserAgent:        "PECorpus/1.0",
			Retries:          2,
			RetryBackoff:     time.Second,
			DownloadTimeout:  60 * time.Second,
			MaxDownloadBytes: 512 << 20,
		},
		Verifiers: VerifiersConfig{
			Scanner: ToolConfig{
				Command: "clamscan",
				Args:    []string{"--no-summary", "{file}"},
				Timeout: 5 * time.Minute,
			},
			Signature: ToolConfig{
				Command: "osslsigncode",
				Args:    []string{"verify", "-in", "{file}"},
				Token:   "Signature verification: ok",
				Timeout: 30 * time.Second,
			},
		},
		Extract: ExtractConfig{
			AllowedExtensions: []string{".exe", ".dll", ".sys"},
			MaxEntryBytes:     1 << 30,
		},
		Sources: SourcesConfig{
			Enabled: []string{"github", "nuget", "portableapps"},
			GitHub: GitHubConfig{
				APIURL:          "https://api.github.com",
				Queries:         []string{"topic:windows"},
				MinStars:        500,
				PerPage:         10,
				AssetExtensions: []string{".exe", ".dll", ".zip", ".msi"},
				CandidateDelay:  time.Second,
				RateLimitCodes:  []int{403, 429},
			},
			NuGet: NuGetConfig{
				SearchURL:      "https://azuresearch-usnc.nuget.org/query",
				PackageBaseURL: "https://www.nuget.org/api/v2/package",
				Queries:        []string{"tags:chocolatey"},
				Take:           5,
				CandidateDelay: time.Second,
				RateLimitCodes: []int{429},
			},
			PortableApps: PortableAppsConfig{
				BaseURL:        "https://portableapps.com/apps",
				PageSize:       5,
				CandidateDelay: 2 * time.Second,
				RateLimitCodes: []int{429},
			},
		},
	}
}
