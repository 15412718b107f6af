// Package app assembles the storefront client stack from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilab-dev/storefront/apiclient"
	"github.com/pilab-dev/storefront/auth"
	"github.com/pilab-dev/storefront/config"
	"github.com/pilab-dev/storefront/currency"
	"github.com/pilab-dev/storefront/events"
	"github.com/pilab-dev/storefront/log"
	"github.com/pilab-dev/storefront/session"
	"github.com/pilab-dev/storefront/storage"
	"github.com/pilab-dev/storefront/token"
	"github.com/pilab-dev/storefront/verification"
)

// App is one fully wired client instance.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Store    storage.Store
	Bus      *events.Bus
	Tokens   *token.Store
	Sessions *session.Store
	Client   *apiclient.Client
	Manager  *auth.Manager
	Currency *currency.Provider

	closers []func() error
}

// New opens the configured storage backend and builds every component on top of it.
// Call Start before use and Close when done.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Nop()
	}
	a := &App{Config: cfg, Logger: logger, Bus: events.NewBus()}

	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	if err := a.build(); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.Config

	apiURL, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		return fmt.Errorf("invalid API base URL: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}

	a.Tokens = token.NewStore(a.Store,
		token.WithTTL(cfg.TokenTTL),
		token.WithBus(a.Bus),
		token.WithLogger(a.Logger),
		token.WithCookieJar(jar, apiURL),
	)
	a.closers = append(a.closers, a.Tokens.Close)

	a.Sessions = session.NewStore(storage.NewWriter(a.Store, a.Logger),
		session.WithTTL(cfg.SessionTTL),
		session.WithDebounce(cfg.SessionDebounce),
		session.WithLogger(a.Logger),
	)

	a.Client, err = apiclient.New(apiclient.Config{
		BaseURL: cfg.APIBaseURL,
		Jar:     jar,
		Timeout: cfg.HTTPTimeout,
		Tokens:  a.Tokens,
		Logger:  a.Logger,
	})
	if err != nil {
		return err
	}

	policy, err := verification.PolicyByName(cfg.VerificationPolicy)
	if err != nil {
		return err
	}
	fallback, err := verification.FallbackByName(cfg.OTPFallback)
	if err != nil {
		return err
	}

	a.Manager, err = auth.NewManager(auth.Config{
		Backend:      a.Client,
		Tokens:       a.Tokens,
		Sessions:     a.Sessions,
		Bus:          a.Bus,
		Policy:       policy,
		Fallback:     fallback,
		AssetBaseURL: cfg.APIBaseURL,
		Logger:       a.Logger,
	})
	if err != nil {
		return err
	}

	selected, err := currency.ParseCode(cfg.DefaultCurrency)
	if err != nil {
		return err
	}
	a.Currency, err = currency.NewProvider(currency.Config{
		Store:               a.Store,
		Bus:                 a.Bus,
		Default:             selected,
		AutoRefreshInterval: cfg.CurrencyRefreshInterval,
		Logger:              a.Logger,
	})
	return err
}

// Start restores the session and loads the currency selection.
func (a *App) Start(ctx context.Context) error {
	if err := a.Manager.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}
	a.closers = append(a.closers, a.Manager.Close)

	if err := a.Currency.Start(ctx); err != nil {
		return fmt.Errorf("failed to start currency provider: %w", err)
	}
	a.closers = append(a.closers, a.Currency.Close)
	return nil
}

// Close releases components in reverse order of creation.
func (a *App) Close(_ context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the storage backend named by cfg.StorageBackend. The returned
// function closes the store and any client it owns.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, func() error, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		s := storage.NewMemoryStore()
		return s, s.Close, nil

	case config.BackendBolt:
		path := os.ExpandEnv(cfg.BoltPath)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		s, err := storage.NewBoltStore(path, time.Minute)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
		}
		s := storage.NewRedisStore(client, cfg.RedisPrefix)
		return s, func() error {
			return errors.Join(s.Close(), client.Close())
		}, nil

	case config.BackendMongo:
		client, err := storage.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		s, err := storage.NewMongoStore(ctx, client.Database(cfg.MongoDBName), "")
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return s, func() error {
			return errors.Join(s.Close(), client.Disconnect(context.Background()))
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
