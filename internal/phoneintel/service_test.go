package phoneintel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   [][]string
	answers map[string]Lookup
	errs    []error // returned in order before answering
}

func (f *fakeProvider) ValidateBatch(ctx context.Context, phones []string) ([]Lookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), phones...))
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	out := make([]Lookup, 0, len(phones))
	for _, p := range phones {
		if l, ok := f.answers[p]; ok {
			out = append(out, l)
			continue
		}
		out = append(out, Lookup{Phone: p, IsValid: true, PhoneType: PhoneMobile, Country: "US"})
	}
	return out, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestService(t *testing.T, p Provider, store CacheStore, opts Options) *Service {
	t.Helper()
	svc, err := NewService(p, store, opts, nil)
	require.NoError(t, err)
	svc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return svc
}

func TestClassify_PreservesOrderAndCount(t *testing.T) {
	p := &fakeProvider{answers: map[string]Lookup{
		"+14155552672": {Phone: "+14155552672", IsValid: true, PhoneType: PhoneLandline},
	}}
	svc := newTestService(t, p, NewMemoryStore(), Options{})

	in := []string{"(415) 555-2671", "not a phone", "+14155552672", "+1 415 555 2671"}
	got, err := svc.Classify(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, got, len(in))

	assert.Equal(t, "+14155552671", got[0].Phone)
	assert.Equal(t, PhoneMobile, got[0].PhoneType)
	assert.Equal(t, "not a phone", got[1].Input)
	assert.False(t, got[1].IsValid)
	assert.Equal(t, PhoneUnknown, got[1].PhoneType)
	assert.Equal(t, PhoneLandline, got[2].PhoneType)
	assert.Equal(t, got[0].Phone, got[3].Phone)

	// Duplicates and unparseable inputs never reach the provider.
	require.Equal(t, 1, p.callCount())
	assert.ElementsMatch(t, []string{"+14155552671", "+14155552672"}, p.calls[0])
}

func TestClassify_CacheHitSkipsProvider(t *testing.T) {
	store := NewMemoryStore()
	store.Put(Entry{Lookup: Lookup{Phone: "+14155552671", IsValid: true, PhoneType: PhoneLandline}})
	p := &fakeProvider{}
	svc := newTestService(t, p, store, Options{})

	got, err := svc.Classify(context.Background(), []string{"+14155552671"})
	require.NoError(t, err)
	assert.True(t, got[0].FromCache)
	assert.Equal(t, PhoneLandline, got[0].PhoneType)
	assert.Equal(t, 0, p.callCount())
}

func TestClassify_SecondCallServedFromHotCache(t *testing.T) {
	p := &fakeProvider{}
	store := NewMemoryStore()
	svc := newTestService(t, p, store, Options{})

	_, err := svc.Classify(context.Background(), []string{"+14155552671"})
	require.NoError(t, err)
	got, err := svc.Classify(context.Background(), []string{"+14155552671"})
	require.NoError(t, err)

	assert.True(t, got[0].FromCache)
	assert.Equal(t, 1, p.callCount())
	assert.Equal(t, 1, store.Len())
}

func TestClassify_ExpiredEntryIsRefetched(t *testing.T) {
	store := NewMemoryStore()
	store.Put(Entry{
		Lookup:        Lookup{Phone: "+14155552671", IsValid: true, PhoneType: PhoneLandline},
		LastCheckedAt: time.Now().Add(-48 * time.Hour),
	})
	p := &fakeProvider{}
	svc := newTestService(t, p, store, Options{MaxAge: 24 * time.Hour})

	got, err := svc.Classify(context.Background(), []string{"+14155552671"})
	require.NoError(t, err)
	assert.False(t, got[0].FromCache)
	assert.Equal(t, PhoneMobile, got[0].PhoneType)
	assert.Equal(t, 1, p.callCount())
}

func TestClassify_BatchesBySize(t *testing.T) {
	p := &fakeProvider{}
	svc := newTestService(t, p, NewMemoryStore(), Options{BatchSize: 2})

	var in []string
	for i := 0; i < 5; i++ {
		in = append(in, fmt.Sprintf("+1415555267%d", i))
	}
	got, err := svc.Classify(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, 3, p.callCount())
	for _, c := range p.calls {
		assert.LessOrEqual(t, len(c), 2)
	}
}

func TestClassify_RetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{errs: []error{ErrTransient, ErrTransient}}
	svc := newTestService(t, p, NewMemoryStore(), Options{})

	got, err := svc.Classify(context.Background(), []string{"+14155552671"})
	require.NoError(t, err)
	assert.True(t, got[0].IsValid)
	assert.Equal(t, 3, p.callCount())
}

func TestClassify_ExhaustedRetriesDegradeAndDoNotCache(t *testing.T) {
	p := &fakeProvider{errs: []error{ErrTransient, ErrTransient, ErrTransient}}
	store := NewMemoryStore()
	svc := newTestService(t, p, store, Options{})

	got, err := svc.Classify(context.Background(), []string{"+14155552671"})
	require.NoError(t, err)
	assert.False(t, got[0].IsValid)
	assert.Equal(t, PhoneUnknown, got[0].PhoneType)
	assert.Equal(t, 3, p.callCount())
	assert.Equal(t, 0, store.Len())
}

func TestClassify_PermanentFailureIsNotRetried(t *testing.T) {
	p := &fakeProvider{errs: []error{errors.New("bad request")}}
	svc := newTestService(t, p, NewMemoryStore(), Options{})

	got, err := svc.Classify(context.Background(), []string{"+14155552671"})
	require.NoError(t, err)
	assert.False(t, got[0].IsValid)
	assert.Equal(t, 1, p.callCount())
}

func TestClassify_Empty(t *testing.T) {
	svc := newTestService(t, &fakeProvider{}, NewMemoryStore(), Options{})
	got, err := svc.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSplit(t *testing.T) {
	p := Split([]Result{
		{Lookup: Lookup{Phone: "a", IsValid: true, PhoneType: PhoneMobile}},
		{Lookup: Lookup{Phone: "b", IsValid: true, PhoneType: PhoneLandline}},
		{Lookup: Lookup{Phone: "c", IsValid: false, PhoneType: PhoneMobile}},
		{Lookup: Lookup{Phone: "d", IsValid: true, PhoneType: PhoneUnknown}},
	})
	assert.Len(t, p.Mobiles, 1)
	assert.Len(t, p.Landlines, 1)
	assert.Len(t, p.Rejected, 2)
}
