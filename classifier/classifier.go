// Package classifier resolves IPHub classification data for addresses, keeping the answers in a
// cache so repeated lookups neither spend quota nor hit the service's rate limit.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloud66-oss/iphub/cache"
	"github.com/cloud66-oss/iphub/provider"
	"github.com/cloud66-oss/iphub/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPrefix = "iphub"
	DefaultTTL    = 3600 * time.Second
)

var ErrNoStore = errors.New("classifier has no cache store")

type IPClassifier struct {
	provider provider.IPProvider
	store    cache.CacheProvider
	prefix   string
	ttl      time.Duration
	metrics  *Metrics
	inflight singleflight.Group
}

type Option func(*IPClassifier)

// WithPrefix sets the namespace of the cache keys
func WithPrefix(prefix string) Option {
	return func(c *IPClassifier) {
		c.prefix = prefix
	}
}

// WithTTL sets how long remote answers are cached for
func WithTTL(ttl time.Duration) Option {
	return func(c *IPClassifier) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(c *IPClassifier) {
		c.metrics = metrics
	}
}

// New builds a classifier backed by the IPHub API with the given key and the cache store described
// by connection (see cache.Open)
func New(ctx context.Context, apiKey string, connection string, opts ...Option) (*IPClassifier, error) {
	p, err := provider.NewIPHubProvider(apiKey)
	if err != nil {
		return nil, err
	}

	return startWithStore(ctx, p, connection, opts...)
}

// startWithStore starts p and opens the store, shutting p down again if the store can't be opened
func startWithStore(ctx context.Context, p provider.IPProvider, connection string, opts ...Option) (*IPClassifier, error) {
	if err := p.Start(ctx); err != nil {
		return nil, err
	}

	store, err := cache.Open(ctx, connection)
	if err != nil {
		p.Shutdown(ctx)
		return nil, err
	}

	return NewWithProvider(p, store, opts...), nil
}

// NewWithProvider builds a classifier on top of an already started provider. A nil store disables
// caching: lookups always go to the provider and the cache operations return ErrNoStore.
func NewWithProvider(p provider.IPProvider, store cache.CacheProvider, opts ...Option) *IPClassifier {
	c := &IPClassifier{
		provider: p,
		store:    store,
		prefix:   DefaultPrefix,
		ttl:      DefaultTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *IPClassifier) CacheKey(ip string) string {
	return c.prefix + ":" + ip
}

// Lookup returns the classification of ip, from the cache when possible. A nil record means there
// is no usable data: the service could not be reached, answered with an error or sent an unusable
// body. The only error returned is *utils.RateLimitError, after which callers should back off.
func (c *IPClassifier) Lookup(ctx context.Context, ip string) (*utils.ClassificationRecord, error) {
	record, err := c.LookupStrict(ctx, ip)
	if err != nil {
		var rle *utils.RateLimitError
		if errors.As(err, &rle) {
			return nil, err
		}

		log.Warn().Err(err).Str("address", ip).Msg("no classification data")
		return nil, nil
	}

	return record, nil
}

// LookupStrict is Lookup without swallowing failures: anything that is not rate limiting comes back
// as *utils.UnavailableError (or the provider's own error). A nil record with a nil error means the
// provider has no data for the address.
func (c *IPClassifier) LookupStrict(ctx context.Context, ip string) (*utils.ClassificationRecord, error) {
	if record := c.fromCache(ctx, ip); record != nil {
		c.metrics.observe(resultHit)
		return record, nil
	}

	// the shared call outlives any single caller, each waiter only gives up on its own context
	flight := c.inflight.DoChan(c.CacheKey(ip), func() (interface{}, error) {
		return c.fetch(context.WithoutCancel(ctx), ip)
	})

	var result singleflight.Result
	select {
	case result = <-flight:
	case <-ctx.Done():
		return nil, &utils.UnavailableError{Reason: "lookup abandoned", Err: ctx.Err()}
	}

	if result.Shared {
		log.Trace().Str("address", ip).Msg("joined an in-flight lookup")
	}
	if result.Err != nil {
		return nil, result.Err
	}

	record, _ := result.Val.(*utils.ClassificationRecord)
	if record == nil {
		return nil, nil
	}

	// every waiter gets its own copy
	clone := *record
	return &clone, nil
}

func (c *IPClassifier) fromCache(ctx context.Context, ip string) *utils.ClassificationRecord {
	if c.store == nil {
		return nil
	}

	value, ok, err := c.store.Fetch(ctx, c.CacheKey(ip))
	if err != nil {
		c.metrics.cacheError("fetch")
		log.Error().Err(err).Str("address", ip).Msg("failed to fetch from cache")
		return nil
	}
	if !ok {
		log.Trace().Str("address", ip).Msg("not found in cache")
		return nil
	}

	var record utils.ClassificationRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		log.Warn().Err(err).Str("address", ip).Msg("ignoring undecodable cache entry")
		return nil
	}
	if !record.Block.Valid() {
		log.Warn().Str("address", ip).Int("block", int(record.Block)).Msg("ignoring cache entry with unknown block level")
		return nil
	}

	log.Trace().Str("address", ip).Msg("returning cached value")
	return &record
}

func (c *IPClassifier) fetch(ctx context.Context, ip string) (*utils.ClassificationRecord, error) {
	record, err := c.provider.Lookup(ctx, ip)
	if err != nil {
		var rle *utils.RateLimitError
		if errors.As(err, &rle) {
			c.metrics.observe(resultRateLimited)
			log.Warn().Str("address", ip).Dur("retry_after", rle.RetryAfter).Msg("rate limited")
		} else {
			c.metrics.observe(resultUnavailable)
		}
		return nil, err
	}

	if record == nil {
		c.metrics.observe(resultAbsent)
		return nil, nil
	}

	if !record.Block.Valid() {
		c.metrics.observe(resultUnavailable)
		return nil, &utils.UnavailableError{Reason: fmt.Sprintf("unknown block level %d", record.Block)}
	}

	// fallback answers are served but not cached, IPHub gets asked again once its quota recovers
	if record.IsFallback {
		c.metrics.observe(resultFallback)
		log.Debug().Str("address", ip).Msg("serving fallback classification")
		return record, nil
	}

	c.metrics.observe(resultMiss)

	if c.store != nil {
		log.Trace().Str("address", ip).Msg("adding to cache")
		if err := c.PushToCache(ctx, ip, record, c.ttl); err != nil {
			log.Error().Err(err).Str("address", ip).Msg("failed to update cache")
		}
	}

	return record, nil
}

// IsAllowed applies the allow policy to the classification of ip. When no classification is
// available (rate limited, failed or no data) the answer is !strict.
//
// Non-residential addresses pass only when the desired level is non-residential or mixed; any other
// classification must match the desired level exactly.
func (c *IPClassifier) IsAllowed(ctx context.Context, ip string, desired utils.BlockLevel, strict bool) bool {
	var record *utils.ClassificationRecord
	var err error

	if strict {
		record, err = c.LookupStrict(ctx, ip)
	} else {
		record, err = c.Lookup(ctx, ip)
	}

	if err != nil || record == nil {
		return !strict
	}

	return Allowed(record.Block, desired)
}

// Allowed is the allow policy on its own
func Allowed(level utils.BlockLevel, desired utils.BlockLevel) bool {
	if level == utils.NonResidential {
		return desired == utils.NonResidential || desired == utils.NonResidentialAndResidential
	}

	return desired == level
}

func (c *IPClassifier) ExistsInCache(ctx context.Context, ip string) (bool, error) {
	if c.store == nil {
		return false, ErrNoStore
	}

	return c.store.Exists(ctx, c.CacheKey(ip))
}

// PushToCache stores record for ip. A ttl of zero or less uses the classifier's TTL.
func (c *IPClassifier) PushToCache(ctx context.Context, ip string, record *utils.ClassificationRecord, ttl time.Duration) error {
	if c.store == nil {
		return ErrNoStore
	}
	if record == nil {
		return errors.New("no record to cache")
	}
	if !record.Block.Valid() {
		return fmt.Errorf("refusing to cache unknown block level %d", record.Block)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	value, err := json.Marshal(record)
	if err != nil {
		return err
	}

	if err := c.store.Add(ctx, c.CacheKey(ip), string(value), ttl); err != nil {
		c.metrics.cacheError("add")
		return err
	}

	return nil
}

func (c *IPClassifier) RemoveFromCache(ctx context.Context, ip string) error {
	if c.store == nil {
		return ErrNoStore
	}

	if err := c.store.Remove(ctx, c.CacheKey(ip)); err != nil {
		c.metrics.cacheError("remove")
		return err
	}

	return nil
}

func (c *IPClassifier) Refresh(ctx context.Context) error {
	return c.provider.Refresh(ctx)
}

func (c *IPClassifier) Close(ctx context.Context) error {
	c.provider.Shutdown(ctx)

	if c.store != nil {
		return c.store.Close()
	}

	return nil
}
