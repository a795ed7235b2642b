package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	// ErrNoProviders is returned when the chain is empty.
	ErrNoProviders = errors.New("no LLM providers configured")
	// ErrNoKey is returned by keyed providers called without a key.
	ErrNoKey = errors.New("api key unset")
	// ErrNoVision is returned when no configured provider can read images.
	ErrNoVision = errors.New("no vision-capable provider configured")
)

const DefaultAttemptTimeout = 120 * time.Second

// Completion is generated text and the provider that produced it.
type Completion struct {
	Text     string
	Provider Provider
}

// ProviderConfig describes one provider in the chain. Client may be set to
// inject a prebuilt client; otherwise one is created from ClientConfig.
type ProviderConfig struct {
	ClientConfig
	Keys   []string
	Client Client
}

type RouterConfig struct {
	Primary   Provider
	Providers []ProviderConfig
	// Timeout bounds each provider attempt.
	Timeout time.Duration
	// RateLimit is requests per second per provider; 0 disables pacing.
	RateLimit float64
}

type slot struct {
	name    Provider
	client  Client
	keys    []string
	cursor  atomic.Uint64
	limiter *rate.Limiter
}

// nextKey returns the key for this dispatch and advances the cursor.
func (s *slot) nextKey() string {
	if len(s.keys) == 0 {
		return ""
	}
	n := s.cursor.Add(1) - 1
	return s.keys[n%uint64(len(s.keys))]
}

// Router tries providers in chain order until one succeeds.
type Router struct {
	primary Provider
	slots   map[Provider]*slot
	timeout time.Duration
}

// NewRouter builds a client for every configured provider. Remote providers
// without keys are left out of the chain.
func NewRouter(ctx context.Context, cfg RouterConfig) (*Router, error) {
	r := &Router{
		primary: cfg.Primary,
		slots:   make(map[Provider]*slot),
		timeout: cfg.Timeout,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultAttemptTimeout
	}

	for _, pc := range cfg.Providers {
		keys := cleanKeys(pc.Keys)
		if pc.Provider != ProviderLocal && pc.Provider != ProviderStub && len(keys) == 0 {
			log.Debug().Str("provider", string(pc.Provider)).Msg("no API keys; provider left out of chain")
			continue
		}

		client := pc.Client
		if client == nil {
			cc := pc.ClientConfig
			if cc.Timeout <= 0 {
				cc.Timeout = r.timeout
			}
			var err error
			client, err = NewClient(ctx, &cc)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.Provider, err)
			}
		}

		s := &slot{name: pc.Provider, client: client, keys: keys}
		if cfg.RateLimit > 0 {
			burst := int(cfg.RateLimit)
			if burst < 1 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
		}
		r.slots[pc.Provider] = s
	}
	return r, nil
}

// Chain returns the providers in the order Generate tries them: the primary
// first, then the remaining remote providers in fixed priority, then local.
func (r *Router) Chain() []Provider {
	var chain []Provider
	seen := make(map[Provider]bool)
	add := func(p Provider) {
		if _, ok := r.slots[p]; ok && !seen[p] {
			seen[p] = true
			chain = append(chain, p)
		}
	}

	if r.primary != ProviderLocal {
		add(r.primary)
	}
	for _, p := range fallbackOrder {
		add(p)
	}
	add(ProviderStub)
	add(ProviderLocal)
	return chain
}

// Generate sends req to each provider in the chain once. It fails only when
// every provider has failed, naming the last failure.
func (r *Router) Generate(ctx context.Context, req Request) (Completion, error) {
	chain := r.Chain()
	if len(chain) == 0 {
		return Completion{}, ErrNoProviders
	}

	var (
		lastErr      error
		lastProvider Provider
	)
	for _, p := range chain {
		s := r.slots[p]
		text, err := r.attempt(ctx, s, func(ctx context.Context, key string) (string, error) {
			return s.client.Generate(ctx, key, req)
		})
		if err == nil {
			return Completion{Text: text, Provider: p}, nil
		}

		lastErr, lastProvider = err, p
		log.Warn().Err(err).Str("provider", string(p)).Msg("provider failed, trying next")
		if ctx.Err() != nil {
			break
		}
	}
	return Completion{}, fmt.Errorf("all LLM providers failed, last error (%s): %w", lastProvider, lastErr)
}

// ExtractTextFromImage asks vision-capable providers, in chain order, to
// read the image.
func (r *Router) ExtractTextFromImage(ctx context.Context, imagePath, prompt string) (string, error) {
	var lastErr error = ErrNoVision
	for _, p := range r.Chain() {
		s := r.slots[p]
		vc, ok := s.client.(VisionClient)
		if !ok {
			continue
		}
		text, err := r.attempt(ctx, s, func(ctx context.Context, key string) (string, error) {
			return vc.ExtractTextFromImage(ctx, key, imagePath, prompt)
		})
		if err == nil {
			return text, nil
		}
		lastErr = fmt.Errorf("%s: %w", p, err)
		log.Warn().Err(err).Str("provider", string(p)).Str("path", imagePath).Msg("vision extraction failed")
	}
	return "", lastErr
}

// attempt paces and bounds a single provider call.
func (r *Router) attempt(ctx context.Context, s *slot, call func(context.Context, string) (string, error)) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	key := s.nextKey()

	actx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return call(actx, key)
}

func cleanKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
