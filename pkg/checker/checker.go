// Package checker validates proxies against probe endpoints and runs
// on-demand requests through stored proxies.
package checker

import (
	"context"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"time"

	"proxypool/internal/logger"
	"proxypool/pkg/failure"
	"proxypool/pkg/fetch"
)

// ProbeGrace is added to the speed limit to get the probe request timeout.
const ProbeGrace = 500 * time.Millisecond

// FailedBody is returned as the body of an on-demand check whose request failed.
const FailedBody = "request failed"

type ProxyStatus int

const (
	StatusUnknown ProxyStatus = iota
	StatusHealthy
	StatusUnhealthy
	StatusTimeout
	StatusError
)

func (s ProxyStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusTimeout:
		return "timeout"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusOf maps a probe error to a status.
func StatusOf(err error) ProxyStatus {
	if err == nil {
		return StatusHealthy
	}
	switch failure.KindOf(err) {
	case failure.KindTimeout:
		return StatusTimeout
	case failure.KindConnectivity, failure.KindHTTPStatus, failure.KindContentMismatch:
		return StatusUnhealthy
	default:
		return StatusError
	}
}

// Probe is a validation endpoint. Marker must appear in the response body;
// {ip} in the marker is replaced with the proxy's IP.
type Probe struct {
	URL    string
	Marker string
}

type CheckerConfig struct {
	SpeedLimit    time.Duration
	TargetTimeout time.Duration
	TargetCutoff  time.Duration
	UserAgent     string
	Probes        []Probe
	EchoHosts     []string
}

// TargetResult is the outcome of an on-demand check.
type TargetResult struct {
	Body    string
	Success bool
	Elapsed time.Duration
}

type Checker struct {
	probes     []Probe
	speedLimit time.Duration
	cutoff     time.Duration
	echoHosts  map[string]bool
	probe      *fetch.Client
	target     *fetch.Client
	pick       func(n int) int
	now        func() time.Time
	logger     *logger.Logger
}

func NewCheckerWithConfig(config CheckerConfig, log *logger.Logger) *Checker {
	if config.SpeedLimit <= 0 {
		config.SpeedLimit = 2 * time.Second
	}
	if config.TargetTimeout <= 0 {
		config.TargetTimeout = 12 * time.Second
	}
	if config.TargetCutoff <= 0 {
		config.TargetCutoff = 10 * time.Second
	}

	echo := make(map[string]bool, len(config.EchoHosts))
	for _, h := range config.EchoHosts {
		echo[strings.ToLower(h)] = true
	}

	return &Checker{
		probes:     config.Probes,
		speedLimit: config.SpeedLimit,
		cutoff:     config.TargetCutoff,
		echoHosts:  echo,
		probe:      fetch.NewClient(fetch.Config{Timeout: config.SpeedLimit + ProbeGrace, UserAgent: config.UserAgent}),
		target:     fetch.NewClient(fetch.Config{Timeout: config.TargetTimeout, UserAgent: config.UserAgent}),
		pick:       rand.IntN,
		now:        time.Now,
		logger:     log.Named("checker"),
	}
}

// SetPicker replaces the random probe choice.
func (c *Checker) SetPicker(pick func(n int) int) {
	c.pick = pick
}

// Probe requests a randomly chosen probe through the proxy and returns the
// elapsed time in milliseconds.
func (c *Checker) Probe(ctx context.Context, proxy fetch.Upstream) (int, error) {
	if len(c.probes) == 0 {
		return 0, failure.Newf(failure.KindUnknown, "probe", "no probes configured")
	}
	p := c.probes[c.pick(len(c.probes))]

	resp, err := c.probe.Get(ctx, cacheBust(p.URL, c.now()), &proxy)
	if err != nil {
		c.logger.Debug().Err(err).Str("proxy", proxy.Address()).Str("probe", p.URL).Msg("probe failed")
		return 0, err
	}

	if resp.Elapsed > c.speedLimit+ProbeGrace {
		return 0, failure.Newf(failure.KindTimeout, "probe", "took %v", resp.Elapsed)
	}

	marker := strings.ReplaceAll(p.Marker, "{ip}", proxy.Host)
	if !strings.Contains(string(resp.Body), marker) {
		return 0, failure.Newf(failure.KindContentMismatch, "probe", "marker %q missing from %s", marker, p.URL)
	}

	return int(resp.Elapsed.Milliseconds()), nil
}

// CheckTarget requests target through the proxy. Echo hosts must return the
// proxy IP; other targets must return a non-empty body. Requests slower than
// the cutoff fail. Whatever body came back is returned either way; FailedBody
// is used only when the request itself failed.
func (c *Checker) CheckTarget(ctx context.Context, proxy fetch.Upstream, target string) TargetResult {
	start := c.now()
	resp, err := c.target.Get(ctx, target, &proxy)
	if err != nil {
		c.logger.Debug().Err(err).Str("proxy", proxy.Address()).Str("target", target).Msg("target request failed")
		return TargetResult{Body: FailedBody, Elapsed: c.now().Sub(start)}
	}

	body := string(resp.Body)
	ok := body != ""
	if c.isEchoHost(target) {
		ok = strings.Contains(body, proxy.Host)
	}
	if resp.Elapsed > c.cutoff {
		ok = false
	}
	return TargetResult{Body: body, Success: ok, Elapsed: resp.Elapsed}
}

func (c *Checker) isEchoHost(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return c.echoHosts[strings.ToLower(u.Hostname())]
}

func cacheBust(rawURL string, now time.Time) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "t=" + strconv.FormatInt(now.UnixNano(), 10)
}
