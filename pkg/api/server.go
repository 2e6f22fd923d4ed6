// Package api serves the proxy pool over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"proxypool/internal/database"
	"proxypool/internal/database/models/model"
	"proxypool/internal/logger"
	"proxypool/pkg/failure"
	"proxypool/pkg/manager"
)

// Backend is the query surface the API exposes.
type Backend interface {
	List(ctx context.Context, q database.Query) (database.Page, error)
	Latest(ctx context.Context) (*model.ProxyIps, error)
	Countries(ctx context.Context) ([]string, error)
	ISPs(ctx context.Context) ([]string, error)
	GetStats(ctx context.Context) (manager.Stats, error)
	Update(ctx context.Context, k database.Key, p database.Patch) (*model.ProxyIps, error)
	Delete(ctx context.Context, k database.Key) error
	SpeedTest(ctx context.Context, k database.Key, target string) (string, error)
}

type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	AuthToken    string
	// CheckRate and CheckBurst limit on-demand checks across all clients.
	CheckRate  float64
	CheckBurst int
}

type Stats struct {
	RequestsHandled int64 `json:"requests_handled"`
	FailedRequests  int64 `json:"failed_requests"`
	SpeedTests      int64 `json:"speed_tests"`
	RateLimited     int64 `json:"rate_limited"`
}

type Server struct {
	backend Backend
	server  *http.Server
	config  *Config
	limiter *rate.Limiter
	handler http.Handler
	logger  *logger.Logger

	requests    atomic.Int64
	failed      atomic.Int64
	speedTests  atomic.Int64
	rateLimited atomic.Int64
}

// envelope is the body of every JSON response.
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		CheckRate:    2,
		CheckBurst:   5,
	}
}

func NewServer(backend Backend, config *Config, log *logger.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.CheckRate <= 0 {
		config.CheckRate = 2
	}
	if config.CheckBurst <= 0 {
		config.CheckBurst = 1
	}

	s := &Server{
		backend: backend,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.CheckRate), config.CheckBurst),
		logger:  log.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/proxy-ips", s.handleList)
	mux.HandleFunc("PATCH /api/proxy-ips", s.authorized(s.handleUpdate))
	mux.HandleFunc("DELETE /api/proxy-ips", s.authorized(s.handleDelete))
	mux.HandleFunc("GET /api/proxy-ip", s.handleLatest)
	mux.HandleFunc("GET /api/web-request-speed", s.handleSpeedTest)
	mux.HandleFunc("GET /api/countries", s.handleCountries)
	mux.HandleFunc("GET /api/isps", s.handleISPs)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	s.handler = mux

	return s
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Info().Str("listen", s.config.ListenAddr).Msg("api server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.handler.ServeHTTP(w, r)
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AuthToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AuthToken)) != 1 {
				s.writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeData(w http.ResponseWriter, data any) {
	s.writeJSON(w, http.StatusOK, envelope{Code: 0, Msg: "success", Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.failed.Add(1)
	s.writeJSON(w, status, envelope{Code: status, Msg: msg})
}

// writeBackendError maps store and failure errors to HTTP statuses.
func (s *Server) writeBackendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound), failure.Is(err, failure.KindNotFound):
		s.writeError(w, http.StatusNotFound, "proxy not found")
	case errors.Is(err, database.ErrInvalidQuery):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", database.ErrInvalidQuery, msg)
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("invalid " + name)
	}
	return n, nil
}

// keyParams reads ip, port and protocol from the query string.
func keyParams(r *http.Request) (database.Key, error) {
	q := r.URL.Query()
	ip := q.Get("ip")
	port, err := strconv.Atoi(q.Get("port"))
	if ip == "" || err != nil || port < 1 || port > 65535 {
		return database.Key{}, badRequest("ip and port are required")
	}
	protocol := strings.ToLower(q.Get("protocol"))
	if protocol == "" {
		protocol = "http"
	}
	return database.Key{IP: ip, Port: port, Protocol: protocol}, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page")
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	pageSize, err := intParam(r, "page_size")
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	anonymity, err := intParam(r, "anonymity")
	if err != nil {
		s.writeBackendError(w, err)
		return
	}

	q := r.URL.Query()
	result, err := s.backend.List(r.Context(), database.Query{
		Page:      page,
		PageSize:  pageSize,
		Country:   q.Get("country"),
		ISP:       q.Get("isp"),
		Protocol:  q.Get("protocol"),
		Anonymity: anonymity,
		OrderBy:   q.Get("order_by"),
		OrderRule: q.Get("order_rule"),
	})
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.writeData(w, result)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := s.backend.Latest(r.Context())
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.writeData(w, rec)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	k, err := keyParams(r)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}

	var patch database.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if patch.Empty() {
		s.writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	rec, err := s.backend.Update(r.Context(), k, patch)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.writeData(w, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	k, err := keyParams(r)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	if err := s.backend.Delete(r.Context(), k); err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.logger.Info().Str("proxy", k.String()).Msg("proxy deleted")
	s.writeData(w, nil)
}

// handleSpeedTest returns the raw body fetched through the proxy.
func (s *Server) handleSpeedTest(w http.ResponseWriter, r *http.Request) {
	k, err := keyParams(r)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	target := r.URL.Query().Get("web_link")
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		s.writeError(w, http.StatusBadRequest, "web_link must be an http(s) URL")
		return
	}

	if !s.limiter.Allow() {
		s.rateLimited.Add(1)
		s.writeError(w, http.StatusTooManyRequests, "too many speed tests")
		return
	}

	s.speedTests.Add(1)
	body, err := s.backend.SpeedTest(r.Context(), k, target)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := s.backend.Countries(r.Context())
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.writeData(w, countries)
}

func (s *Server) handleISPs(w http.ResponseWriter, r *http.Request) {
	isps, err := s.backend.ISPs(r.Context())
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.writeData(w, isps)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	poolStats, err := s.backend.GetStats(r.Context())
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	s.writeData(w, map[string]any{
		"pool":   poolStats,
		"server": s.getStats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	poolStats, err := s.backend.GetStats(r.Context())
	if err != nil {
		s.writeBackendError(w, err)
		return
	}
	if poolStats.Total == 0 {
		s.writeError(w, http.StatusServiceUnavailable, "no validated proxies")
		return
	}
	s.writeData(w, map[string]int{"proxies": poolStats.Total})
}

func (s *Server) getStats() Stats {
	return Stats{
		RequestsHandled: s.requests.Load(),
		FailedRequests:  s.failed.Load(),
		SpeedTests:      s.speedTests.Load(),
		RateLimited:     s.rateLimited.Load(),
	}
}
