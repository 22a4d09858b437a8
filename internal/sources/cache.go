package sources

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"odin/internal/store"
)

// Cache stores collected signals as market intelligence. *store.Store
// implements it.
type Cache interface {
	PutIntel(ctx context.Context, rec *store.MarketIntelligence) error
	LatestIntel(ctx context.Context, dataType, source string, now time.Time) (*store.MarketIntelligence, error)
}

// intelTypes maps the cacheable kinds to their intelligence data type.
// Company context is internal and never cached.
var intelTypes = map[Kind]string{
	Market:      store.IntelMarketTrend,
	Customer:    store.IntelCustomerFeedback,
	Competitive: store.IntelCompetitorAnalysis,
}

const (
	fileReliability      = 0.8
	simulatedReliability = 0.5
)

// CachedProvider serves a provider's last result until TTL elapses.
// Cache failures degrade to a direct collect.
type CachedProvider struct {
	Provider Provider
	Cache    Cache
	TTL      time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

func (p *CachedProvider) Kind() Kind { return p.Provider.Kind() }

func (p *CachedProvider) Collect(ctx context.Context) (*Signal, error) {
	dataType, cacheable := intelTypes[p.Kind()]
	if !cacheable || p.Cache == nil || p.TTL <= 0 {
		return p.Provider.Collect(ctx)
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now().UTC()
	if p.Now != nil {
		now = p.Now().UTC()
	}
	source := string(p.Kind())

	rec, err := p.Cache.LatestIntel(ctx, dataType, source, now)
	switch {
	case err == nil:
		origin := ""
		if len(rec.Tags) > 0 {
			origin = rec.Tags[0]
		}
		return &Signal{Kind: p.Kind(), Data: rec.Data, Origin: origin, Cached: true}, nil
	case !errors.Is(err, store.ErrNotFound):
		logger.Warn("intel cache lookup failed", zap.String("kind", source), zap.Error(err))
	}

	sig, err := p.Provider.Collect(ctx)
	if err != nil || sig == nil {
		return sig, err
	}
	reliability := fileReliability
	if sig.Origin == OriginSimulated {
		reliability = simulatedReliability
	}
	put := &store.MarketIntelligence{
		DataType:         dataType,
		Source:           source,
		Data:             sig.Data,
		CollectedAt:      now,
		ExpiresAt:        now.Add(p.TTL),
		ReliabilityScore: reliability,
		Tags:             []string{sig.Origin},
	}
	if err := p.Cache.PutIntel(context.WithoutCancel(ctx), put); err != nil {
		logger.Warn("intel cache write failed", zap.String("kind", source), zap.Error(err))
	}
	return sig, nil
}

// WithCache wraps every provider in a CachedProvider.
func WithCache(providers []Provider, cache Cache, ttl time.Duration, logger *zap.Logger) []Provider {
	out := make([]Provider, 0, len(providers))
	for _, p := range providers {
		out = append(out, &CachedProvider{Provider: p, Cache: cache, TTL: ttl, Logger: logger})
	}
	return out
}
