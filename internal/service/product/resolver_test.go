package product

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
	model "github.com/zhouzirui/shopmate/backend/internal/model/product"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	missing  map[string]bool
	failing  map[string]bool
	delay    time.Duration
	inflight int32
	peak     int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:   make(map[string]int),
		missing: make(map[string]bool),
		failing: make(map[string]bool),
	}
}

func (f *fakeFetcher) GetProduct(_ context.Context, id string) (model.Summary, error) {
	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls[id]++
	missing, failing := f.missing[id], f.failing[id]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if missing {
		return model.Summary{}, ErrProductNotFound
	}
	if failing {
		return model.Summary{}, errors.New("catalog unavailable")
	}
	return model.Summary{ID: id, Name: "Product " + id, Price: 10}, nil
}

func (f *fakeFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func newTestResolver(t *testing.T, fetcher Fetcher, concurrency int) *Resolver {
	t.Helper()
	logger, _ := test.NewNullLogger()
	r, err := NewResolver(fetcher, ResolverOptions{Concurrency: concurrency, Logger: logger})
	require.NoError(t, err)
	return r
}

func ids(summaries []model.Summary) []string {
	out := make([]string, len(summaries))
	for i, s := range summaries {
		out[i] = s.ID
	}
	return out
}

func TestResolvePreservesOrderAndDuplicates(t *testing.T) {
	fetcher := newFakeFetcher()
	r := newTestResolver(t, fetcher, 4)

	got := r.Resolve(context.Background(), []string{"p1", "p2", "p1"})

	assert.Equal(t, []string{"p1", "p2", "p1"}, ids(got))
	assert.Equal(t, 1, fetcher.callCount("p1"), "duplicate ids are fetched once per batch")
	assert.Equal(t, 1, fetcher.callCount("p2"))
}

func TestResolveDropsFailedLookups(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.missing["p2"] = true
	fetcher.failing["p3"] = true
	r := newTestResolver(t, fetcher, 4)

	got := r.Resolve(context.Background(), []string{"p1", "p2", "p3"})
	assert.Equal(t, []string{"p1"}, ids(got))
}

func TestResolveDetailedReportsEveryPosition(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.missing["gone"] = true
	r := newTestResolver(t, fetcher, 2)

	results := r.ResolveDetailed(context.Background(), []string{"a", "gone", "a"})
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.ErrorIs(t, results[1].Err, ErrProductNotFound)
	assert.True(t, results[2].OK())
	assert.NotSame(t, results[0].Summary, results[2].Summary)
}

func TestResolveHonoursConcurrencyLimit(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.delay = 20 * time.Millisecond
	r := newTestResolver(t, fetcher, 2)

	got := r.Resolve(context.Background(), []string{"a", "b", "c", "d", "e"})
	assert.Len(t, got, 5)
	assert.LessOrEqual(t, atomic.LoadInt32(&fetcher.peak), int32(2))
}

func TestResolveMessageIsMemoizedPerMessage(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.missing["p2"] = true
	r := newTestResolver(t, fetcher, 4)

	msg := chat.Message{ID: "m1", Role: chat.RoleAssistant, ReferencedProductIDs: []string{"p1", "p2"}}

	first := r.ResolveMessage(context.Background(), msg)
	second := r.ResolveMessage(context.Background(), msg)

	assert.Equal(t, []string{"p1"}, ids(first))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetcher.callCount("p1"))
	assert.Equal(t, 1, fetcher.callCount("p2"), "failed lookups are not retried on re-render")
	assert.Equal(t, []string{"p1", "p2"}, msg.ReferencedProductIDs)

	cached, ok := r.Resolved("m1")
	require.True(t, ok)
	assert.Equal(t, first, cached)
}

func TestResolveMessageWithoutProducts(t *testing.T) {
	r := newTestResolver(t, newFakeFetcher(), 1)
	assert.Nil(t, r.ResolveMessage(context.Background(), chat.Message{ID: "m", Content: "hi"}))
}

func TestNewResolverRequiresFetcher(t *testing.T) {
	_, err := NewResolver(nil, ResolverOptions{})
	assert.Error(t, err)
}

func TestPartialResolutionErrorListsIDs(t *testing.T) {
	err := &PartialResolutionError{Failed: map[string]error{"b": ErrProductNotFound, "a": ErrProductNotFound}}
	assert.Equal(t, "2 referenced products could not be resolved: a, b", err.Error())
}

// gatedFetcher blocks every lookup until release is closed or the lookup's ctx ends.
type gatedFetcher struct {
	started chan string
	release chan struct{}
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{started: make(chan string, 8), release: make(chan struct{})}
}

func (f *gatedFetcher) GetProduct(ctx context.Context, id string) (model.Summary, error) {
	f.started <- id
	select {
	case <-ctx.Done():
		return model.Summary{}, ctx.Err()
	case <-f.release:
		return model.Summary{ID: id, Name: "Product " + id}, nil
	}
}

func TestResolveMessageSurvivesCancelledSharer(t *testing.T) {
	fetcher := newGatedFetcher()
	r := newTestResolver(t, fetcher, 4)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	doneA := make(chan []model.Summary, 1)
	go func() {
		doneA <- r.ResolveMessage(ctxA, chat.Message{ID: "a", Role: chat.RoleAssistant, ReferencedProductIDs: []string{"p1"}})
	}()
	<-fetcher.started

	doneB := make(chan []model.Summary, 1)
	go func() {
		doneB <- r.ResolveMessage(context.Background(), chat.Message{ID: "b", Role: chat.RoleAssistant, ReferencedProductIDs: []string{"p1"}})
	}()

	cancelA()
	select {
	case got := <-doneA:
		assert.Nil(t, got, "cancelled caller stops waiting")
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(fetcher.release)
	select {
	case got := <-doneB:
		assert.Equal(t, []string{"p1"}, ids(got))
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}

	cached, ok := r.Resolved("b")
	require.True(t, ok)
	assert.Equal(t, []string{"p1"}, ids(cached))

	assert.Eventually(t, func() bool {
		got, ok := r.Resolved("a")
		return ok && len(got) == 1
	}, time.Second, 10*time.Millisecond, "the abandoned resolution still completes")
}

type timeoutOnceFetcher struct {
	calls int32
}

func (f *timeoutOnceFetcher) GetProduct(_ context.Context, id string) (model.Summary, error) {
	if atomic.AddInt32(&f.calls, 1) == 1 {
		return model.Summary{}, fmt.Errorf("get product %s: %w", id, context.DeadlineExceeded)
	}
	return model.Summary{ID: id}, nil
}

func TestResolveMessageSkipsMemoOnTimeout(t *testing.T) {
	fetcher := &timeoutOnceFetcher{}
	r := newTestResolver(t, fetcher, 1)
	msg := chat.Message{ID: "m", Role: chat.RoleAssistant, ReferencedProductIDs: []string{"p1"}}

	assert.Empty(t, r.ResolveMessage(context.Background(), msg))
	_, ok := r.Resolved("m")
	assert.False(t, ok, "timed out lookups are retried later")

	assert.Equal(t, []string{"p1"}, ids(r.ResolveMessage(context.Background(), msg)))
	_, ok = r.Resolved("m")
	assert.True(t, ok)
}
