package product

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
	model "github.com/zhouzirui/shopmate/backend/internal/model/product"
)

const (
	defaultConcurrency = 8
	defaultMemoSize    = 256
)

// ResolverOptions tunes the fan-out and the per-message memo.
type ResolverOptions struct {
	Concurrency int
	MemoSize    int
	Logger      logrus.FieldLogger
}

// Resolver turns product ids referenced by assistant messages into catalog summaries.
type Resolver struct {
	fetcher  Fetcher
	limit    int
	log      logrus.FieldLogger
	memo     *lru.Cache[string, []model.Summary]
	inflight singleflight.Group
}

// NewResolver wraps fetcher with concurrent, deduplicated resolution.
func NewResolver(fetcher Fetcher, opts ResolverOptions) (*Resolver, error) {
	if fetcher == nil {
		return nil, errors.New("product fetcher is required")
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	size := opts.MemoSize
	if size <= 0 {
		size = defaultMemoSize
	}
	memo, err := lru.New[string, []model.Summary](size)
	if err != nil {
		return nil, fmt.Errorf("create resolution memo: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Resolver{
		fetcher: fetcher,
		limit:   limit,
		log:     logger.WithField("component", "resolver"),
		memo:    memo,
	}, nil
}

// ResolveDetailed fetches every distinct id once, concurrently, and reports one result per
// input position. Repeated ids reuse the batch-local result.
func (r *Resolver) ResolveDetailed(ctx context.Context, ids []string) []model.FetchResult {
	if len(ids) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		fetched = make(map[string]model.FetchResult, len(ids))
		g       errgroup.Group
	)
	g.SetLimit(r.limit)

	for _, id := range distinct(ids) {
		g.Go(func() error {
			summary, err := r.fetchShared(ctx, id)
			res := model.FetchResult{ID: id, Err: err}
			if err == nil {
				res.Summary = &summary
			}
			mu.Lock()
			fetched[id] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.FetchResult, len(ids))
	for i, id := range ids {
		res := fetched[id]
		if res.Summary != nil {
			s := *res.Summary
			res.Summary = &s
		}
		out[i] = res
	}
	return out
}

// Resolve returns the successfully resolved summaries in input order. Failed lookups are
// logged and dropped; partial results are expected when products were deleted.
func (r *Resolver) Resolve(ctx context.Context, ids []string) []model.Summary {
	summaries, _ := r.resolve(ctx, ids)
	return summaries
}

// resolve reports complete=false when a lookup was cut short by a context rather than
// answered by the catalog.
func (r *Resolver) resolve(ctx context.Context, ids []string) ([]model.Summary, bool) {
	results := r.ResolveDetailed(ctx, ids)

	summaries := make([]model.Summary, 0, len(results))
	complete := true
	var partial *PartialResolutionError
	for _, res := range results {
		if res.OK() {
			summaries = append(summaries, *res.Summary)
			continue
		}
		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			complete = false
		}
		if partial == nil {
			partial = &PartialResolutionError{Failed: make(map[string]error)}
		}
		partial.Failed[res.ID] = res.Err
	}

	if partial != nil {
		for id, err := range partial.Failed {
			if !errors.Is(err, ErrProductNotFound) {
				r.log.WithError(err).WithField("product", id).Debug("product lookup failed")
			}
		}
		r.log.WithError(partial).WithField("resolved", len(summaries)).Warn("dropping unresolved products")
	}
	return summaries, complete
}

// ResolveMessage resolves the products referenced by msg once per message id. Later calls,
// e.g. from a re-render, return the memoized result; concurrent calls share one resolution.
// A caller whose ctx ends early gets nil while the shared resolution runs on.
func (r *Resolver) ResolveMessage(ctx context.Context, msg chat.Message) []model.Summary {
	if !msg.HasProducts() {
		return nil
	}
	if msg.ID == "" {
		return r.Resolve(ctx, msg.ReferencedProductIDs)
	}
	if cached, ok := r.memo.Get(msg.ID); ok {
		return cloneSummaries(cached)
	}

	shared := context.WithoutCancel(ctx)
	ch := r.inflight.DoChan("message:"+msg.ID, func() (interface{}, error) {
		if cached, ok := r.memo.Get(msg.ID); ok {
			return cached, nil
		}
		resolved, complete := r.resolve(shared, msg.ReferencedProductIDs)
		if complete {
			r.memo.Add(msg.ID, resolved)
		}
		return resolved, nil
	})

	select {
	case <-ctx.Done():
		return nil
	case res := <-ch:
		return cloneSummaries(res.Val.([]model.Summary))
	}
}

// Resolved returns the memoized result for a message id without fetching.
func (r *Resolver) Resolved(messageID string) ([]model.Summary, bool) {
	cached, ok := r.memo.Get(messageID)
	if !ok {
		return nil, false
	}
	return cloneSummaries(cached), true
}

// fetchShared collapses concurrent fetches of the same id across batches. The shared
// fetch ignores any single caller's cancellation; each caller stops waiting on its own.
func (r *Resolver) fetchShared(ctx context.Context, id string) (model.Summary, error) {
	shared := context.WithoutCancel(ctx)
	ch := r.inflight.DoChan("product:"+id, func() (interface{}, error) {
		return r.fetcher.GetProduct(shared, id)
	})

	select {
	case <-ctx.Done():
		return model.Summary{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.Summary{}, res.Err
		}
		return res.Val.(model.Summary), nil
	}
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func cloneSummaries(in []model.Summary) []model.Summary {
	if in == nil {
		return nil
	}
	return append([]model.Summary(nil), in...)
}
