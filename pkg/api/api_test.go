package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxypool/internal/database"
	"proxypool/internal/database/models/model"
	"proxypool/internal/logger"
	"proxypool/pkg/failure"
	"proxypool/pkg/manager"
)

type fakeBackend struct {
	records   []model.ProxyIps
	lastQuery database.Query
	patched   database.Patch
	deleted   []database.Key
	tested    []string
	body      string
}

func (f *fakeBackend) find(k database.Key) (*model.ProxyIps, error) {
	for i := range f.records {
		if database.KeyOf(&f.records[i]) == k {
			return &f.records[i], nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeBackend) List(_ context.Context, q database.Query) (database.Page, error) {
	f.lastQuery = q
	if q.OrderBy != "" && q.OrderBy != "speed" {
		return database.Page{}, fmt.Errorf("%w: cannot order by %q", database.ErrInvalidQuery, q.OrderBy)
	}
	return database.Page{Items: f.records, Total: int64(len(f.records)), Page: 1, PageSize: 20, LastPage: 1}, nil
}

func (f *fakeBackend) Latest(context.Context) (*model.ProxyIps, error) {
	if len(f.records) == 0 {
		return nil, database.ErrNotFound
	}
	return &f.records[0], nil
}

func (f *fakeBackend) Countries(context.Context) ([]string, error) {
	return []string{"China", "Germany"}, nil
}

func (f *fakeBackend) ISPs(context.Context) ([]string, error) {
	return nil, errors.New("database is locked")
}

func (f *fakeBackend) GetStats(context.Context) (manager.Stats, error) {
	return manager.Stats{ProxyStats: database.ProxyStats{Total: len(f.records)}}, nil
}

func (f *fakeBackend) Update(_ context.Context, k database.Key, p database.Patch) (*model.ProxyIps, error) {
	rec, err := f.find(k)
	if err != nil {
		return nil, err
	}
	f.patched = p
	if p.Country != nil {
		rec.Country = *p.Country
	}
	return rec, nil
}

func (f *fakeBackend) Delete(_ context.Context, k database.Key) error {
	if _, err := f.find(k); err != nil {
		return err
	}
	f.deleted = append(f.deleted, k)
	return nil
}

func (f *fakeBackend) SpeedTest(_ context.Context, k database.Key, target string) (string, error) {
	if _, err := f.find(k); err != nil {
		return "", failure.New(failure.KindNotFound, "speed test", err)
	}
	f.tested = append(f.tested, target)
	return f.body, nil
}

func newFake() *fakeBackend {
	return &fakeBackend{
		records: []model.ProxyIps{
			{UniqueID: "a", IP: "1.2.3.4", Port: 8080, Protocol: "http", Anonymity: 2, Country: "China"},
			{UniqueID: "b", IP: "5.6.7.8", Port: 3128, Protocol: "https", Anonymity: 1},
		},
		body: "<html>hello</html>",
	}
}

func newTestServer(backend Backend, mutate func(*Config)) *Server {
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return NewServer(backend, cfg, logger.Nop())
}

func do(t *testing.T, s *Server, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) (int, string, json.RawMessage) {
	t.Helper()
	var out struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Code, out.Msg, out.Data
}

func TestListProxies(t *testing.T) {
	fake := newFake()
	s := newTestServer(fake, nil)

	rec := do(t, s, http.MethodGet, "/api/proxy-ips?page=2&page_size=5&country=China&isp=Telecom&protocol=http&anonymity=2&order_by=speed&order_rule=asc", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	code, msg, data := decode(t, rec)
	assert.Equal(t, 0, code)
	assert.Equal(t, "success", msg)

	var page database.Page
	require.NoError(t, json.Unmarshal(data, &page))
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.Total)

	assert.Equal(t, database.Query{
		Page:      2,
		PageSize:  5,
		Country:   "China",
		ISP:       "Telecom",
		Protocol:  "http",
		Anonymity: 2,
		OrderBy:   "speed",
		OrderRule: "asc",
	}, fake.lastQuery)
}

func TestListProxiesBadInput(t *testing.T) {
	s := newTestServer(newFake(), nil)

	rec := do(t, s, http.MethodGet, "/api/proxy-ips?order_by=password", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	code, msg, _ := decode(t, rec)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, msg, "password")

	rec = do(t, s, http.MethodGet, "/api/proxy-ips?page=two", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestProxy(t *testing.T) {
	fake := newFake()
	s := newTestServer(fake, nil)

	rec := do(t, s, http.MethodGet, "/api/proxy-ip", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, _, data := decode(t, rec)
	var got model.ProxyIps
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "1.2.3.4", got.IP)

	fake.records = nil
	rec = do(t, s, http.MethodGet, "/api/proxy-ip", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSpeedTest(t *testing.T) {
	fake := newFake()
	s := newTestServer(fake, nil)

	rec := do(t, s, http.MethodGet, "/api/web-request-speed?protocol=http&ip=1.2.3.4&port=8080&web_link=https%3A%2F%2Fwww.example.com%2F%3Fq%3D1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>hello</html>", rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Equal(t, []string{"https://www.example.com/?q=1"}, fake.tested)

	rec = do(t, s, http.MethodGet, "/api/web-request-speed?protocol=http&ip=9.9.9.9&port=80&web_link=http://www.example.com/", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/web-request-speed?ip=1.2.3.4&port=8080&web_link=ftp://example.com/", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/web-request-speed?ip=1.2.3.4&port=0&web_link=http://www.example.com/", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpeedTestRateLimited(t *testing.T) {
	s := newTestServer(newFake(), func(c *Config) {
		c.CheckRate = 0.001
		c.CheckBurst = 1
	})
	target := "/api/web-request-speed?protocol=http&ip=1.2.3.4&port=8080&web_link=http://www.example.com/"

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, target, nil, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, target, nil, nil).Code)
	assert.Equal(t, int64(1), s.getStats().RateLimited)
	assert.Equal(t, int64(1), s.getStats().SpeedTests)
}

func TestUpdateAndDeleteRequireToken(t *testing.T) {
	fake := newFake()
	s := newTestServer(fake, func(c *Config) { c.AuthToken = "secret" })
	target := "/api/proxy-ips?ip=1.2.3.4&port=8080&protocol=http"

	rec := do(t, s, http.MethodPatch, target, strings.NewReader(`{"country":"Japan"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	auth := http.Header{"Authorization": {"Bearer secret"}}
	rec = do(t, s, http.MethodPatch, target, strings.NewReader(`{"country":"Japan"}`), auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, fake.patched.Country)
	assert.Equal(t, "Japan", *fake.patched.Country)
	assert.Equal(t, "Japan", fake.records[0].Country)

	rec = do(t, s, http.MethodPatch, target, strings.NewReader(`{}`), auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodDelete, target, nil, http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodDelete, target, nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []database.Key{{IP: "1.2.3.4", Port: 8080, Protocol: "http"}}, fake.deleted)

	rec = do(t, s, http.MethodDelete, "/api/proxy-ips?ip=9.9.9.9&port=1&protocol=http", nil, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCountriesAndISPs(t *testing.T) {
	s := newTestServer(newFake(), nil)

	rec := do(t, s, http.MethodGet, "/api/countries", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, _, data := decode(t, rec)
	assert.JSONEq(t, `["China","Germany"]`, string(data))

	rec = do(t, s, http.MethodGet, "/api/isps", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	_, msg, _ := decode(t, rec)
	assert.Equal(t, "internal error", msg)
}

func TestHealthAndStats(t *testing.T) {
	fake := newFake()
	s := newTestServer(fake, nil)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil, nil).Code)

	rec := do(t, s, http.MethodGet, "/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, _, data := decode(t, rec)
	var stats struct {
		Pool   manager.Stats `json:"pool"`
		Server Stats         `json:"server"`
	}
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, 2, stats.Pool.Total)
	assert.Equal(t, int64(2), stats.Server.RequestsHandled)

	fake.records = nil
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/health", nil, nil).Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	s := newTestServer(newFake(), nil)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/nope", nil, nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodPost, "/api/proxy-ip", nil, nil).Code)
}
