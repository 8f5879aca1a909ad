package config

import (
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Server struct {
		Port string `env:"PORT" envDefault:"5250"`

		// Shared secret required by the sync/enrich trigger endpoints
		SyncSecret string `env:"SYNC_SECRET"`
	}

	Database struct {
		Path string `env:"DATABASE_PATH" envDefault:"database/hdblens.db"`
	}

	Redis struct {
		// Empty address disables the cache layer entirely
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	// Upstream resale transaction feed
	Source struct {
		BaseURL    string `env:"SOURCE_BASE_URL" envDefault:"https://data.gov.sg/api/action/datastore_search"`
		ResourceID string `env:"SOURCE_RESOURCE_ID" envDefault:"d_8b84c4ee58e3cfc0ece0d773c8ca6abc"`

		// Records per page and the safety cap on pages per invocation
		PageSize int `env:"SOURCE_PAGE_SIZE" envDefault:"500"`
		MaxPages int `env:"SOURCE_MAX_PAGES" envDefault:"20"`

		// Delay between consecutive page requests in milliseconds
		PageDelayMs int `env:"SOURCE_PAGE_DELAY_MS" envDefault:"1000"`

		// Default lookback window in months when no transactions exist yet
		LookbackMonths int `env:"SOURCE_LOOKBACK_MONTHS" envDefault:"12"`
	}

	// OneMap enrichment provider
	OneMap struct {
		BaseURL  string `env:"ONEMAP_BASE_URL" envDefault:"https://www.onemap.gov.sg"`
		Email    string `env:"ONEMAP_EMAIL"`
		Password string `env:"ONEMAP_PASSWORD"`

		// Delay between dependent calls for a unit and between units
		CallDelayMs int `env:"ONEMAP_CALL_DELAY_MS" envDefault:"150"`
	}

	Scoring struct {
		// Units whose score is older than this are re-enriched
		StaleAfterDays int `env:"SCORE_STALE_AFTER_DAYS" envDefault:"30"`

		// Backlog caps: conservative during a full sync, larger for the
		// dedicated enrichment endpoint
		SyncBacklogLimit int `env:"SYNC_BACKLOG_LIMIT" envDefault:"5"`
		EnrichBatchLimit int `env:"ENRICH_BATCH_LIMIT" envDefault:"50"`
	}

	Stats struct {
		// Recompute window in months
		WindowMonths int `env:"STATS_WINDOW_MONTHS" envDefault:"24"`
	}

	Scheduler struct {
		// Cron spec for the periodic sync; empty disables scheduling
		SyncSpec string `env:"SYNC_CRON_SPEC" envDefault:"0 2 * * *"`
	}
}

func LoadConfig() (*Config, error) {
	// Optional .env for local development; production injects env vars
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasEnrichmentCredentials reports whether the OneMap account is configured.
// Without credentials the enrichment phase is skipped with a warning rather
// than failing the whole sync.
func (c *Config) HasEnrichmentCredentials() bool {
	return c.OneMap.Email != "" && c.OneMap.Password != ""
}
