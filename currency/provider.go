package currency

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	sferrors "github.com/pilab-dev/storefront/errors"
	"github.com/pilab-dev/storefront/events"
	"github.com/pilab-dev/storefront/internal/metrics"
	"github.com/pilab-dev/storefront/log"
	"github.com/pilab-dev/storefront/storage"
)

const (
	// KeySelected is the storage key of the selected currency code.
	KeySelected = "selected_currency"
	// KeyLastUpdated is the storage key of the last rate refresh, RFC 3339.
	KeyLastUpdated = "currency_rates_last_updated"

	// DefaultAutoRefreshInterval is the age after which rates are refreshed.
	DefaultAutoRefreshInterval = time.Hour
	// DefaultCheckInterval is how often rate staleness is checked.
	DefaultCheckInterval = time.Minute
)

// State is the observable currency state.
type State struct {
	Selected    Code      `json:"selected" yaml:"selected"`
	Base        Code      `json:"base" yaml:"base"`
	Rates       Rates     `json:"rates" yaml:"rates"`
	LastUpdated time.Time `json:"lastUpdated" yaml:"lastUpdated"`
}

func (s State) clone() State {
	s.Rates = maps.Clone(s.Rates)
	return s
}

// Listener receives every state change, in order.
type Listener func(State)

// Config wires a Provider.
type Config struct {
	// Store persists the selection; nil keeps everything in memory.
	Store storage.Store
	Bus   *events.Bus
	// Source defaults to StaticRates.
	Source RateSource
	// Default is the initial selection. Defaults to Base.
	Default Code

	AutoRefreshInterval time.Duration
	CheckInterval       time.Duration

	Clock  func() time.Time
	Logger log.Logger
}

// Provider holds the selected currency and rate table. It is safe for concurrent use.
type Provider struct {
	store           storage.Store
	bus             *events.Bus
	source          RateSource
	refreshInterval time.Duration
	checkInterval   time.Duration
	now             func() time.Time
	logger          log.Logger

	mu    sync.RWMutex
	state State

	notifyMu    sync.Mutex
	listenersMu sync.Mutex
	listeners   map[uint64]Listener
	nextID      uint64

	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewProvider creates a provider with the static rate table and the default
// selection. Call Start to load persisted state and begin auto-refresh.
func NewProvider(cfg Config) (*Provider, error) {
	selected := cfg.Default
	if selected == "" {
		selected = Base
	}
	if _, ok := Lookup(selected); !ok {
		return nil, fmt.Errorf("invalid default currency: %w", errUnsupportedCode(selected))
	}

	p := &Provider{
		store:           cfg.Store,
		bus:             cfg.Bus,
		source:          cfg.Source,
		refreshInterval: cfg.AutoRefreshInterval,
		checkInterval:   cfg.CheckInterval,
		now:             cfg.Clock,
		logger:          cfg.Logger,
		state: State{
			Selected: selected,
			Base:     Base,
			Rates:    maps.Clone(DefaultRates),
		},
		listeners: make(map[uint64]Listener),
	}
	if p.source == nil {
		p.source = StaticRates{}
	}
	if p.refreshInterval <= 0 {
		p.refreshInterval = DefaultAutoRefreshInterval
	}
	if p.checkInterval <= 0 {
		p.checkInterval = DefaultCheckInterval
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = log.Nop()
	}
	p.logger = p.logger.With(log.Fields{"component": "currency"})

	return p, nil
}

// Start loads the persisted selection and refresh time, follows changes made by
// other instances, refreshes stale rates and begins periodic staleness checks.
func (p *Provider) Start(ctx context.Context) error {
	p.load(ctx)

	if p.store != nil {
		p.unsubscribe = p.store.Subscribe(p.onChange)
	}

	p.refreshIfStale(ctx)

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.autoRefresh(loopCtx)

	return nil
}

// Close stops auto-refresh and the change subscription.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		if p.unsubscribe != nil {
			p.unsubscribe()
		}
	})
	return nil
}

// State returns a copy of the current state.
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.clone()
}

// Selected returns the selected currency.
func (p *Provider) Selected() Code {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Selected
}

// Subscribe registers l for state changes and returns a function that removes it.
func (p *Provider) Subscribe(l Listener) (unsubscribe func()) {
	p.listenersMu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	p.listenersMu.Unlock()

	return func() {
		p.listenersMu.Lock()
		delete(p.listeners, id)
		p.listenersMu.Unlock()
	}
}

// SetSelectedCurrency changes and persists the selected currency.
func (p *Provider) SetSelectedCurrency(ctx context.Context, code Code) error {
	if _, ok := Lookup(code); !ok {
		return errUnsupportedCode(code)
	}

	changed := false
	p.update(func(s *State) {
		changed = s.Selected != code
		s.Selected = code
	})

	if p.store != nil {
		if err := p.store.Set(ctx, KeySelected, string(code), 0); err != nil {
			p.logger.Error(ctx, "failed to persist selected currency", err)
		}
	}
	if changed && p.bus != nil {
		p.bus.Publish(events.NewEvent(events.TopicCurrencyChanged, map[string]interface{}{"currency": string(code)}))
	}
	return nil
}

// ConvertPrice converts amount from one currency to another via the base currency.
func (p *Provider) ConvertPrice(amount float64, from, to Code) (float64, error) {
	p.mu.RLock()
	rates := p.state.Rates
	p.mu.RUnlock()

	return rates.convert(amount, from, to)
}

// ConvertFromBase converts a base-currency amount to the selected currency.
func (p *Provider) ConvertFromBase(amount float64) (float64, error) {
	return p.ConvertPrice(amount, Base, p.Selected())
}

// ExchangeRate returns how many units of to one unit of from is worth.
func (p *Provider) ExchangeRate(from, to Code) (float64, error) {
	return p.ConvertPrice(1, from, to)
}

// FormatPrice formats amount for display. See FormatOptions.
func (p *Provider) FormatPrice(amount float64, opts FormatOptions) (string, error) {
	code := opts.Currency
	if code == "" {
		code = p.Selected()
	}

	if opts.From != "" && opts.From != code {
		converted, err := p.ConvertPrice(amount, opts.From, code)
		if err != nil {
			return "", err
		}
		amount = converted
	}

	return formatAmount(amount, code, opts.Decimals, opts.HideSymbol)
}

// RefreshRates reloads the rate table from the source and stamps LastUpdated.
func (p *Provider) RefreshRates(ctx context.Context) error {
	rates, err := p.source.Rates(ctx)
	if err == nil {
		err = rates.validate()
	}
	if err != nil {
		p.logger.Error(ctx, "failed to refresh exchange rates", err)
		return fmt.Errorf("failed to refresh exchange rates: %w", err)
	}

	now := p.now().UTC()
	p.update(func(s *State) {
		s.Rates = maps.Clone(rates)
		s.LastUpdated = now
	})
	metrics.CurrencyRefreshTotal.Inc()

	if p.store != nil {
		if err := p.store.Set(ctx, KeyLastUpdated, now.Format(time.RFC3339Nano), 0); err != nil {
			p.logger.Error(ctx, "failed to persist rate refresh time", err)
		}
	}
	p.logger.Debug(ctx, "exchange rates refreshed", log.Fields{"last_updated": now})
	return nil
}

func (p *Provider) refreshIfStale(ctx context.Context) {
	p.mu.RLock()
	last := p.state.LastUpdated
	p.mu.RUnlock()

	if !last.IsZero() && p.now().Sub(last) <= p.refreshInterval {
		return
	}
	_ = p.RefreshRates(ctx)
}

func (p *Provider) autoRefresh(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshIfStale(ctx)
		}
	}
}

func (p *Provider) load(ctx context.Context) {
	if p.store == nil {
		return
	}

	if raw, found, err := p.store.Get(ctx, KeySelected); err != nil {
		p.logger.Error(ctx, "failed to read selected currency", err)
	} else if found {
		if code, err := ParseCode(raw); err == nil {
			p.update(func(s *State) { s.Selected = code })
		} else {
			p.logger.Warn(ctx, "ignoring persisted currency", log.Fields{"value": raw})
		}
	}

	if raw, found, err := p.store.Get(ctx, KeyLastUpdated); err != nil {
		p.logger.Error(ctx, "failed to read rate refresh time", err)
	} else if found {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			p.update(func(s *State) { s.LastUpdated = t })
		}
	}
}

// onChange applies selection and refresh changes written by other instances.
func (p *Provider) onChange(c storage.Change) {
	if c.Deleted {
		return
	}

	switch c.Key {
	case KeySelected:
		code, err := ParseCode(c.Value)
		if err != nil {
			return
		}
		if p.Selected() == code {
			return
		}
		p.update(func(s *State) { s.Selected = code })

	case KeyLastUpdated:
		t, err := time.Parse(time.RFC3339Nano, c.Value)
		if err != nil {
			return
		}
		p.mu.RLock()
		newer := t.After(p.state.LastUpdated)
		p.mu.RUnlock()
		if newer {
			p.update(func(s *State) { s.LastUpdated = t })
		}
	}
}

func (p *Provider) update(fn func(*State)) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	fn(&p.state)
	snapshot := p.state.clone()
	p.mu.Unlock()

	p.listenersMu.Lock()
	ids := slices.Sorted(maps.Keys(p.listeners))
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, p.listeners[id])
	}
	p.listenersMu.Unlock()

	for _, l := range listeners {
		l(snapshot.clone())
	}
}

func errUnsupportedCode(code Code) error {
	return fmt.Errorf("%w: %q", sferrors.ErrUnsupportedCurrency, code)
}
