package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"despeed/internal/config"
	"despeed/internal/credential"
	"despeed/internal/database"
	"despeed/internal/domain"
	"despeed/internal/geo"
	"despeed/internal/geolite"
	"despeed/internal/jobs/accounts"
	jobruntime "despeed/internal/jobs/runtime"
	"despeed/internal/ndt"
	"despeed/internal/proxy"
	"despeed/internal/report"
	"despeed/internal/support"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// Paths holds the file locations given on the command line. Empty fields fall back to
// the settings file.
type Paths struct {
	Settings string
	Tokens   string
	Proxies  string
}

// LoadConfig reads the settings file and applies path overrides.
func LoadConfig(paths Paths) (config.Config, error) {
	cfg, err := config.ReadSettings(paths.Settings)
	if err != nil {
		return config.Config{}, err
	}
	if paths.Tokens != "" {
		cfg.Files.Tokens = paths.Tokens
	}
	if paths.Proxies != "" {
		cfg.Files.Proxies = paths.Proxies
	}
	return cfg, nil
}

// Components is the wired object graph for one process.
type Components struct {
	Config       config.Config
	Tokens       []domain.Credential
	Resolver     *proxy.Resolver
	Validator    *credential.Validator
	Orchestrator *accounts.Orchestrator
	History      *database.HistoryStore
	Redis        *redis.Client

	closers []func()
}

// Setup loads tokens and proxies and builds every component. Optional parts (history
// database, redis, GeoLite database) are skipped with a warning when they fail to open.
func Setup(ctx context.Context, cfg config.Config) (*Components, error) {
	tokens, err := config.LoadTokens(cfg.Files.Tokens)
	if err != nil {
		return nil, err
	}

	fromFile, err := config.LoadProxies(cfg.Files.Proxies)
	if err != nil {
		return nil, err
	}
	cfg, pool := cfg.ProxyPool(fromFile)
	if cfg.Proxy.Enabled {
		log.Info("Proxy pool loaded", "proxies", len(pool))
	}

	c := &Components{
		Config:   cfg,
		Tokens:   tokens,
		Resolver: proxy.NewResolver(cfg, pool),
	}
	c.Validator = credential.NewValidator(cfg.BaseURL, c.Resolver)

	var cityDB geo.CityLookup
	if cfg.GeoLite.CityDatabase != "" && cfg.GeoLite.AutoUpdate {
		if _, err := geolite.NewUpdater(cfg.GeoLite.LicenseKey, cfg.GeoLite.CityDatabase).Ensure(ctx); err != nil {
			log.Warn("GeoLite update failed", "error", err)
		}
	}
	if cfg.GeoLite.CityDatabase != "" {
		reader, err := geo.OpenCityDatabase(cfg.GeoLite.CityDatabase)
		if err != nil {
			log.Warn("GeoLite database unavailable, continuing without it", "path", cfg.GeoLite.CityDatabase, "error", err)
		} else {
			cityDB = reader
			c.closers = append(c.closers, func() { _ = reader.Close() })
		}
	}

	var sinks []accounts.OutcomeSink
	if cfg.History.Enabled {
		store, closeDB, err := OpenHistory(cfg)
		if err != nil {
			log.Warn("Run history disabled", "error", err)
		} else {
			c.History = store
			c.closers = append(c.closers, closeDB)
			sinks = append(sinks, store)
		}
	}

	if cfg.Redis.URL != "" && (cfg.Redis.PublishOutcomes || cfg.Redis.BatchLock) {
		client, err := support.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn("Redis unavailable, outcome publishing and batch lock disabled", "error", err)
		} else {
			c.Redis = client
			c.closers = append(c.closers, func() { _ = client.Close() })
			if cfg.Redis.PublishOutcomes {
				sinks = append(sinks, jobruntime.NewOutcomePublisher(client))
			}
		}
	}

	c.Orchestrator = accounts.New(accounts.Dependencies{
		Validator: c.Validator,
		Profiles:  credential.NewProfileFetcher(cfg.BaseURL, c.Resolver),
		Locations: newLocationProvider(cfg, c.Resolver, cityDB),
		Servers:   ndt.NewLocator(),
		Engine:    ndt.NewEngine(),
		Reporter:  report.NewReporter(cfg.BaseURL, c.Resolver, cfg.LocationEnabled, cfg.UniqueIP),
		Resolver:  c.Resolver,
	}, cfg.LocationEnabled, sinks...)

	return c, nil
}

// newLocationProvider wires the GeoLite fallback. The proxy test endpoint doubles as the
// egress IP source when ipinfo is unreachable.
func newLocationProvider(cfg config.Config, resolver geo.TunnelResolver, cityDB geo.CityLookup, opts ...geo.Option) *geo.Provider {
	if cityDB != nil {
		opts = append(opts, geo.WithCityDatabase(cityDB), geo.WithEgressURL(cfg.Proxy.TestURL))
	}
	return geo.NewProvider(resolver, opts...)
}

// OpenHistory opens the configured history database and returns a store plus its closer.
func OpenHistory(cfg config.Config) (*database.HistoryStore, func(), error) {
	dialector, err := database.Dialector(cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.SetupDB(database.WithDialector(dialector))
	if err != nil {
		return nil, nil, err
	}
	return database.NewHistoryStore(db), func() {
		if err := database.Close(db); err != nil {
			log.Warn("Error closing history database", "error", err)
		}
	}, nil
}

// Pass returns one batch pass over all tokens, guarded by the redis batch lock when enabled.
func (c *Components) Pass() jobruntime.Pass {
	pass := func(ctx context.Context) error {
		_, err := c.Orchestrator.RunBatch(ctx, c.Tokens)
		return err
	}
	if c.Redis != nil && c.Config.Redis.BatchLock {
		return jobruntime.Exclusive(c.Redis, pass)
	}
	return pass
}

// CheckTokens validates every token without measuring. It returns the number of valid
// tokens.
func (c *Components) CheckTokens(ctx context.Context) (int, error) {
	valid := 0
	for i, token := range c.Tokens {
		logger := log.With("account", i+1, "token", token.Fingerprint())
		err := c.Validator.Check(ctx, token)
		switch {
		case err == nil:
			valid++
			logger.Info("Token valid")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return valid, err
		default:
			logger.Warn("Token rejected", "error", err)
		}
	}
	if valid == 0 {
		return 0, fmt.Errorf("check tokens: %w", domain.ErrNoCredentials)
	}
	return valid, nil
}

func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
