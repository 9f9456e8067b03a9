// Package query answers filtered and aggregated reads over the record store.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/aggregation"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/filter"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/storage"
)

// ErrInvalidQuery is returned when a filter or aggregation does not fit the dataset schema.
var ErrInvalidQuery = errors.New("invalid query")

type (
	// Service runs queries against a RecordStore and caches results until the next write
	// to the queried dataset type or the cache TTL, whichever comes first.
	Service struct {
		store    storage.RecordStore
		registry *schema.Registry
		cache    *resultCache
		logger   *slog.Logger
	}

	// Option configures a Service.
	Option func(*serviceOptions)

	serviceOptions struct {
		config *Config
		logger *slog.Logger
		now    func() time.Time
	}

	// StatsResult combines the live dataset statistics with its upload metadata.
	StatsResult struct {
		Stats    *dataset.Stats    `json:"stats"`
		Metadata *dataset.Metadata `json:"metadata"`
	}

	// listenerRegistrar is implemented by stores that accept write listeners after
	// construction.
	listenerRegistrar interface {
		AddWriteListener(l storage.WriteListener)
	}

	cacheRequest struct {
		Op          string            `json:"op"`
		Filter      filter.Spec       `json:"filter"`
		Aggregation *aggregation.Spec `json:"aggregation,omitempty"`
		Window      int               `json:"window,omitempty"`
	}
)

// WithConfig sets the cache configuration.
func WithConfig(cfg *Config) Option {
	return func(o *serviceOptions) {
		o.config = cfg
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithClock overrides the cache time source.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		o.now = now
	}
}

// NewService creates a query service over store. When caching is enabled the cache
// subscribes to the store's writes; stores that cannot register listeners after
// construction must be built with Listener() already attached.
func NewService(store storage.RecordStore, registry *schema.Registry, opts ...Option) *Service {
	o := &serviceOptions{
		config: DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	s := &Service{store: store, registry: registry, logger: o.logger}

	if o.config.cacheEnabled() {
		s.cache = newResultCache(o.config.CacheTTL, o.config.CacheMaxEntries, o.now)

		if r, ok := store.(listenerRegistrar); ok {
			r.AddWriteListener(s.cache)
		}
	}

	return s
}

// Listener returns the write listener that invalidates the cache, or nil when caching
// is disabled.
func (s *Service) Listener() storage.WriteListener {
	if s.cache == nil {
		return nil
	}

	return s.cache
}

// Query returns the records of dt accepted by spec, ordered by primary date then id.
// No match yields an empty slice.
func (s *Service) Query(ctx context.Context, dt dataset.Type, spec filter.Spec) ([]dataset.Record, error) {
	sch, err := s.registry.Schema(dt)
	if err != nil {
		return nil, err
	}

	if err := filter.Validate(spec, sch); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	records, err := cached(ctx, s, dt, cacheRequest{Op: "query", Filter: spec}, func(ctx context.Context) ([]dataset.Record, error) {
		return s.scan(ctx, dt, sch, spec)
	})
	if err != nil {
		return nil, err
	}

	return dataset.CloneRecords(records), nil
}

// Aggregate filters dt by fspec and groups and reduces the result per aspec. A month
// grouping without a date field uses the schema's primary date. The result is shared
// with the cache and must not be modified.
func (s *Service) Aggregate(
	ctx context.Context,
	dt dataset.Type,
	fspec filter.Spec,
	aspec aggregation.Spec,
) (*aggregation.Result, error) {
	sch, aspec, err := s.prepare(dt, fspec, aspec)
	if err != nil {
		return nil, err
	}

	req := cacheRequest{Op: "aggregate", Filter: fspec, Aggregation: &aspec}

	return cached(ctx, s, dt, req, func(ctx context.Context) (*aggregation.Result, error) {
		records, err := s.scan(ctx, dt, sch, fspec)
		if err != nil {
			return nil, err
		}

		return aggregation.GroupAndReduce(records, aspec)
	})
}

// Series aggregates like Aggregate and lays the groups out as a series with trend
// statistics. window sets the moving average; 0 omits it.
func (s *Service) Series(
	ctx context.Context,
	dt dataset.Type,
	fspec filter.Spec,
	aspec aggregation.Spec,
	window int,
) (*aggregation.Series, error) {
	if window < 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, aggregation.ErrInvalidWindow)
	}

	result, err := s.Aggregate(ctx, dt, fspec, aspec)
	if err != nil {
		return nil, err
	}

	return aggregation.BuildSeries(result, window)
}

// Stats returns the record statistics and upload metadata of dt.
func (s *Service) Stats(ctx context.Context, dt dataset.Type) (*StatsResult, error) {
	if _, err := s.registry.Schema(dt); err != nil {
		return nil, err
	}

	stats, err := s.store.Stats(ctx, dt)
	if err != nil {
		return nil, err
	}

	meta, err := s.store.Metadata(ctx, dt)
	if err != nil {
		return nil, err
	}

	return &StatsResult{Stats: stats, Metadata: meta}, nil
}

// scan reads the smallest candidate set from the store and applies the filter.
func (s *Service) scan(ctx context.Context, dt dataset.Type, sch *schema.Schema, spec filter.Spec) ([]dataset.Record, error) {
	var (
		records []dataset.Record
		err     error
	)

	if from, to, ok := filter.DateBounds(spec, sch); ok && from != nil && to != nil {
		records, err = s.store.GetByDateRange(ctx, dt, *from, *to)
	} else {
		records, err = s.store.GetAll(ctx, dt)
	}

	if err != nil {
		return nil, err
	}

	return filter.Apply(records, filter.Compose(spec, sch)), nil
}

func (s *Service) prepare(
	dt dataset.Type,
	fspec filter.Spec,
	aspec aggregation.Spec,
) (*schema.Schema, aggregation.Spec, error) {
	sch, err := s.registry.Schema(dt)
	if err != nil {
		return nil, aspec, err
	}

	if err := filter.Validate(fspec, sch); err != nil {
		return nil, aspec, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	if aspec.GroupBy == aggregation.GroupByMonth && aspec.DateField == "" {
		aspec.DateField = sch.PrimaryDate
	}

	if err := validateAggregation(aspec, sch); err != nil {
		return nil, aspec, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	return sch, aspec, nil
}

func validateAggregation(spec aggregation.Spec, sch *schema.Schema) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	fieldOf := func(role, name string) (schema.FieldDefinition, error) {
		def, ok := sch.Field(name)
		if !ok {
			return def, fmt.Errorf("%w: unknown %s field %q", aggregation.ErrInvalidSpec, role, name)
		}

		return def, nil
	}

	switch spec.GroupBy {
	case "":
	case aggregation.GroupByMonth:
		def, err := fieldOf("date", spec.DateField)
		if err != nil {
			return err
		}

		if def.Type != schema.TypeDate {
			return fmt.Errorf("%w: %q is not a date field", aggregation.ErrInvalidSpec, spec.DateField)
		}
	default:
		if _, err := fieldOf("group", spec.GroupBy); err != nil {
			return err
		}
	}

	if spec.Reducer == aggregation.ReducerSum || spec.Reducer == aggregation.ReducerAvg {
		def, err := fieldOf("value", spec.Field)
		if err != nil {
			return err
		}

		if !def.Type.Numeric() {
			return fmt.Errorf("%w: %q is not numeric", aggregation.ErrInvalidSpec, spec.Field)
		}
	}

	if spec.Reducer == aggregation.ReducerRate {
		if _, err := fieldOf("rate", spec.RateField); err != nil {
			return err
		}
	}

	return nil
}

// cached serves req from the cache or computes it with load and caches the result.
func cached[T any](
	ctx context.Context,
	s *Service,
	dt dataset.Type,
	req cacheRequest,
	load func(context.Context) (T, error),
) (T, error) {
	if s.cache == nil {
		return load(ctx)
	}

	encoded, err := json.Marshal(req)
	if err != nil {
		var zero T

		return zero, err
	}

	key := cacheKey(dt, encoded)

	if v, ok := s.cache.get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	gen := s.cache.generation(dt)

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	if !s.cache.put(dt, gen, key, value) {
		s.logger.Debug("Discarded stale query result",
			slog.String("dataset_type", string(dt)),
			slog.String("op", req.Op))
	}

	return value, nil
}
