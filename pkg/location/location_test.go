package location

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxypool/internal/database"
	"proxypool/internal/logger"
	"proxypool/pkg/failure"
	"proxypool/pkg/queue"
)

type fakeResolver struct {
	mu    sync.Mutex
	loc   database.Location
	err   error
	calls int
	ips   []string
}

func (f *fakeResolver) Lookup(_ context.Context, ip string) (database.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ips = append(f.ips, ip)
	return f.loc, f.err
}

func (f *fakeResolver) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

var full = database.Location{Country: "中国", Region: "广东", City: "深圳", Isp: "电信"}

func TestResolveCompletePrimarySkipsFallback(t *testing.T) {
	primary := &fakeResolver{loc: full}
	fallback := &fakeResolver{loc: full}
	sleeps := &sleepRecorder{}
	c := NewChain(primary, fallback, DefaultCooldown, logger.Nop())
	c.SetSleep(sleeps.sleep)

	loc, err := c.Resolve(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, full, loc)
	assert.Zero(t, fallback.Calls())
	assert.Empty(t, sleeps.sleeps)
}

func TestResolveMissingISPWaitsThenFallsBackOnce(t *testing.T) {
	partial := full
	partial.Isp = ""
	primary := &fakeResolver{loc: partial}
	fallback := &fakeResolver{loc: database.Location{Country: "中国", Region: "广东省", City: "深圳", Isp: "China Telecom"}}
	sleeps := &sleepRecorder{}
	c := NewChain(primary, fallback, DefaultCooldown, logger.Nop())
	c.SetSleep(sleeps.sleep)

	loc, err := c.Resolve(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Second}, sleeps.sleeps)
	assert.Equal(t, 1, fallback.Calls())
	assert.Equal(t, "China Telecom", loc.Isp)
	assert.Equal(t, "广东省", loc.Region, "fallback values win")
}

func TestResolveFallbackFailureKeepsPartial(t *testing.T) {
	partial := full
	partial.City = ""
	c := NewChain(&fakeResolver{loc: partial}, &fakeResolver{err: errors.New("quota exceeded")}, 0, logger.Nop())

	loc, err := c.Resolve(context.Background(), "1.2.3.4")
	require.Error(t, err)
	assert.Equal(t, failure.KindResolution, failure.KindOf(err))
	assert.Equal(t, partial, loc)
}

func TestResolveWithoutFallback(t *testing.T) {
	c := NewChain(&fakeResolver{err: errors.New("not in database")}, nil, 0, logger.Nop())
	loc, err := c.Resolve(context.Background(), "1.2.3.4")
	assert.Equal(t, failure.KindResolution, failure.KindOf(err))
	assert.Equal(t, database.Location{}, loc)
}

func TestResolveFallbackOnlyStillIncomplete(t *testing.T) {
	fallback := &fakeResolver{loc: database.Location{Country: "中国"}}
	c := NewChain(nil, fallback, 0, logger.Nop())
	loc, err := c.Resolve(context.Background(), "1.2.3.4")
	assert.Equal(t, failure.KindResolution, failure.KindOf(err))
	assert.Equal(t, "中国", loc.Country)
	assert.Equal(t, 1, fallback.Calls())
}

func TestIPAPILookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/json/1.2.3.4":
			assert.Equal(t, "zh-CN", r.URL.Query().Get("lang"))
			fmt.Fprint(w, `{"status":"success","country":"中国","regionName":"广东","city":"深圳","isp":"电信","query":"1.2.3.4"}`)
		case "/json/10.0.0.1":
			fmt.Fprint(w, `{"status":"fail","message":"private range","query":"10.0.0.1"}`)
		default:
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	api := NewIPAPI(srv.URL+"/json/{ip}?lang=zh-CN", 2*time.Second, "Mozilla/5.0 test agent")
	ctx := context.Background()

	loc, err := api.Lookup(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, full, loc)

	_, err = api.Lookup(ctx, "10.0.0.1")
	assert.Equal(t, failure.KindResolution, failure.KindOf(err))

	_, err = api.Lookup(ctx, "9.9.9.9")
	assert.Equal(t, failure.KindHTTPStatus, failure.KindOf(err))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "", clean("-"))
	assert.Equal(t, "", clean("This parameter is unavailable for selected data file. Please upgrade the data file."))
	assert.Equal(t, "Shenzhen", clean(" Shenzhen "))
}

func TestOpenIP2LocationMissingFile(t *testing.T) {
	_, err := OpenIP2Location(filepath.Join(t.TempDir(), "missing.BIN"))
	assert.Error(t, err)
}

func newStore(t *testing.T) *database.Service {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "location.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.NewService(db, logger.Nop())
}

func TestServiceLocateAndRelocate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, ip := range []string{"1.1.1.1", "2.2.2.2"} {
		_, inserted, err := store.Add(ctx, database.NewProxy{
			Key:       database.Key{IP: ip, Port: 80, Protocol: "http"},
			Anonymity: database.Elite,
			Speed:     100,
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}

	chain := NewChain(&fakeResolver{loc: full}, nil, 0, logger.Nop())
	svc := NewService(queue.Config{Workers: 1, Buffer: 10, TTL: time.Hour}, chain, store, logger.Nop())

	svc.Locate(ctx, database.Key{IP: "1.1.1.1", Port: 80, Protocol: "http"})
	rec, err := store.FindUnique(ctx, database.Key{IP: "1.1.1.1", Port: 80, Protocol: "http"})
	require.NoError(t, err)
	assert.Equal(t, "深圳", rec.City)

	svc.Start(ctx)
	queued, err := svc.Relocate(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	svc.Stop()

	rec, err = store.FindUnique(ctx, database.Key{IP: "2.2.2.2", Port: 80, Protocol: "http"})
	require.NoError(t, err)
	assert.Equal(t, "电信", rec.Isp)
	assert.EqualValues(t, 1, svc.Stats().Processed)
}

func TestServiceRelocationSkipsPastUnresolved(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		_, inserted, err := store.Add(ctx, database.NewProxy{
			Key:       database.Key{IP: ip, Port: 80, Protocol: "http"},
			Anonymity: database.Elite,
			Speed:     100,
		})
		require.NoError(t, err)
		require.True(t, inserted)
		time.Sleep(5 * time.Millisecond)
	}

	resolver := &fakeResolver{err: errors.New("no data")}
	chain := NewChain(resolver, nil, 0, logger.Nop())
	svc := NewService(queue.Config{Workers: 1, TTL: time.Hour}, chain, store, logger.Nop())

	pass := func() {
		recs, err := store.MissingLocation(ctx, 2)
		require.NoError(t, err)
		for i := range recs {
			svc.Locate(ctx, database.KeyOf(&recs[i]))
			time.Sleep(5 * time.Millisecond)
		}
	}

	pass()
	pass()
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}, resolver.ips)
}

func TestServiceLocateMissingRecord(t *testing.T) {
	store := newStore(t)
	chain := NewChain(&fakeResolver{loc: full}, nil, 0, logger.Nop())
	svc := NewService(queue.Config{Workers: 1, TTL: time.Hour}, chain, store, logger.Nop())

	assert.NotPanics(t, func() {
		svc.Locate(context.Background(), database.Key{IP: "3.3.3.3", Port: 80, Protocol: "http"})
	})
}
