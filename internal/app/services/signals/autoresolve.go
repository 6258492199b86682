package signals

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	domain "github.com/signalmesh/registry/internal/app/domain/signal"
	"github.com/signalmesh/registry/internal/app/system"
	"github.com/signalmesh/registry/pkg/logger"
)

// PriceSource supplies the observed price for an asset, in the smallest
// currency unit.
type PriceSource interface {
	Price(ctx context.Context, asset string) (uint64, error)
}

// PriceSourceFunc adapts a function to the PriceSource interface.
type PriceSourceFunc func(ctx context.Context, asset string) (uint64, error)

func (f PriceSourceFunc) Price(ctx context.Context, asset string) (uint64, error) {
	if f == nil {
		return 0, fmt.Errorf("no price source configured")
	}
	return f(ctx, asset)
}

// Resolver periodically scans for unresolved signals past their horizon and
// submits resolutions with prices from the source. It holds no special
// authority: resolution is permissionless and the poller is just one more
// caller, so a losing race with a manual resolver surfaces as
// ErrAlreadyResolved and is dropped.
type Resolver struct {
	service  *Service
	source   PriceSource
	interval time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

var _ system.Service = (*Resolver)(nil)

// NewResolver constructs the auto-resolution poller.
func NewResolver(service *Service, source PriceSource, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewDefault("signal-resolver")
	}
	return &Resolver{
		service:     service,
		source:      source,
		interval:    30 * time.Second,
		log:         log,
		nextAttempt: make(map[string]time.Time),
	}
}

func (r *Resolver) Name() string { return "signal-resolver" }

func (r *Resolver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("signal resolver started")
	return nil
}

func (r *Resolver) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (r *Resolver) tick(ctx context.Context) {
	due, err := r.service.ListDue(ctx)
	if err != nil {
		r.log.WithError(err).Warn("list due signals failed")
		return
	}

	now := time.Now()
	for _, sig := range due {
		key := sig.Address.String()
		if !r.shouldAttempt(key, now) {
			continue
		}

		price, err := r.source.Price(ctx, sig.Asset)
		if err != nil {
			r.log.WithError(err).Warnf("price lookup for %s failed", sig.Asset)
			r.scheduleNext(key, r.interval)
			continue
		}

		if _, _, err := r.service.Resolve(ctx, sig.Address, sig.Agent, price); err != nil {
			if err == domain.ErrAlreadyResolved {
				r.clearSchedule(key)
				continue
			}
			r.log.WithError(err).Warnf("resolve signal %s failed", key)
			r.scheduleNext(key, r.interval)
			continue
		}
		r.clearSchedule(key)
	}
}

func (r *Resolver) shouldAttempt(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, ok := r.nextAttempt[key]
	return !ok || now.After(next)
}

func (r *Resolver) scheduleNext(key string, after time.Duration) {
	r.mu.Lock()
	r.nextAttempt[key] = time.Now().Add(after)
	r.mu.Unlock()
}

func (r *Resolver) clearSchedule(key string) {
	r.mu.Lock()
	delete(r.nextAttempt, key)
	r.mu.Unlock()
}

// HTTPPriceSource fetches quotes from an HTTP endpoint and extracts the price
// with a configurable JSON path, so one source covers differently shaped
// quote APIs.
type HTTPPriceSource struct {
	client    *http.Client
	endpoint  *url.URL
	pricePath string
	apiKey    string
	log       *logger.Logger
}

// NewHTTPPriceSource constructs a source against the given quote endpoint.
// pricePath is a gjson path into the response body, defaulting to "price".
func NewHTTPPriceSource(client *http.Client, endpoint, pricePath, apiKey string, log *logger.Logger) (*HTTPPriceSource, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("price endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse price endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if pricePath = strings.TrimSpace(pricePath); pricePath == "" {
		pricePath = "price"
	}
	if log == nil {
		log = logger.NewDefault("price-source")
	}
	return &HTTPPriceSource{
		client:    client,
		endpoint:  parsed,
		pricePath: pricePath,
		apiKey:    strings.TrimSpace(apiKey),
		log:       log,
	}, nil
}

func (s *HTTPPriceSource) Price(ctx context.Context, asset string) (uint64, error) {
	requestURL := *s.endpoint
	q := requestURL.Query()
	q.Set("symbol", asset)
	requestURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build quote request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("quote status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read quote response: %w", err)
	}

	value := gjson.GetBytes(body, s.pricePath)
	if !value.Exists() {
		return 0, fmt.Errorf("quote response missing %q", s.pricePath)
	}
	price := value.Uint()
	if price == 0 && value.Float() <= 0 {
		return 0, fmt.Errorf("quote for %s is not a positive price", asset)
	}
	return price, nil
}
