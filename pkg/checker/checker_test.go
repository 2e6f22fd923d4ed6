package checker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxypool/internal/logger"
	"proxypool/pkg/failure"
	"proxypool/pkg/fetch"
)

const testUA = "Mozilla/5.0 (X11; Linux x86_64) test"

// forwardProxy answers every proxied request with handler.
func forwardProxy(t *testing.T, handler http.HandlerFunc) fetch.Upstream {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return fetch.Upstream{Protocol: "http", Host: host, Port: p}
}

func newTestChecker(probes ...Probe) *Checker {
	return NewCheckerWithConfig(CheckerConfig{
		SpeedLimit:    300 * time.Millisecond,
		TargetTimeout: 2 * time.Second,
		TargetCutoff:  time.Second,
		UserAgent:     testUA,
		Probes:        probes,
		EchoHosts:     []string{"pv.sohu.com", "ip-api.com"},
	}, logger.Nop())
}

func TestProbeSuccess(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	up := forwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Host+r.URL.Path+"?"+r.URL.RawQuery)
		mu.Unlock()
		fmt.Fprintf(w, `{"ip":"%s"}`, strings.Split(r.RemoteAddr, ":")[0])
	})

	c := newTestChecker(
		Probe{URL: "http://first.example/", Marker: "never"},
		Probe{URL: "http://echo.example/ip", Marker: "{ip}"},
	)
	var gotN int
	c.SetPicker(func(n int) int { gotN = n; return 1 })

	speed, err := c.Probe(context.Background(), up)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, speed, 0)
	assert.Equal(t, 2, gotN, "choice spans every probe")

	require.Len(t, seen, 1)
	assert.True(t, strings.HasPrefix(seen[0], "echo.example/ip?t="), seen[0])
}

func TestProbeContentMismatch(t *testing.T) {
	up := forwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>captive portal</html>")
	})

	c := newTestChecker(Probe{URL: "http://www.baidu.example/", Marker: "百度一下"})
	_, err := c.Probe(context.Background(), up)
	require.Error(t, err)
	assert.Equal(t, failure.KindContentMismatch, failure.KindOf(err))
	assert.Equal(t, StatusUnhealthy, StatusOf(err))
}

func TestProbeTooSlow(t *testing.T) {
	up := forwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		fmt.Fprint(w, "127.0.0.1")
	})

	c := newTestChecker(Probe{URL: "http://echo.example/", Marker: "{ip}"})
	_, err := c.Probe(context.Background(), up)
	require.Error(t, err)
	assert.Equal(t, failure.KindTimeout, failure.KindOf(err))
	assert.Equal(t, StatusTimeout, StatusOf(err))
}

func TestProbeHTTPStatus(t *testing.T) {
	up := forwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	c := newTestChecker(Probe{URL: "http://echo.example/", Marker: "{ip}"})
	_, err := c.Probe(context.Background(), up)
	assert.Equal(t, failure.KindHTTPStatus, failure.KindOf(err))
}

func TestProbeUnreachableProxy(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	c := newTestChecker(Probe{URL: "http://echo.example/", Marker: "{ip}"})
	_, err = c.Probe(context.Background(), fetch.Upstream{Protocol: "http", Host: "127.0.0.1", Port: port})
	require.Error(t, err)
	assert.True(t, failure.IsNetwork(err))
}

func TestProbeWithoutProbes(t *testing.T) {
	c := newTestChecker()
	_, err := c.Probe(context.Background(), fetch.Upstream{Protocol: "http", Host: "127.0.0.1", Port: 1})
	assert.Error(t, err)
}

func TestCheckTarget(t *testing.T) {
	t.Run("echo host returns proxy ip", func(t *testing.T) {
		up := forwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "pv.sohu.com", r.URL.Hostname())
			fmt.Fprint(w, `var returnCitySN = {"cip": "127.0.0.1"};`)
		})
		res := newTestChecker().CheckTarget(context.Background(), up, "http://pv.sohu.com/cityjson")
		assert.True(t, res.Success)
		assert.Contains(t, res.Body, "127.0.0.1")
	})

	t.Run("echo host returns another ip", func(t *testing.T) {
		up := forwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"query":"8.8.8.8"}`)
		})
		res := newTestChecker().CheckTarget(context.Background(), up, "http://ip-api.com/json")
		assert.False(t, res.Success)
		assert.Equal(t, `{"query":"8.8.8.8"}`, res.Body)
	})

	t.Run("other target needs a body", func(t *testing.T) {
		up := forwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		res := newTestChecker().CheckTarget(context.Background(), up, "http://www.example.com/")
		assert.False(t, res.Success)
		assert.Empty(t, res.Body)
	})

	t.Run("other target with body", func(t *testing.T) {
		up := forwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "<html>ok</html>")
		})
		res := newTestChecker().CheckTarget(context.Background(), up, "http://www.example.com/")
		assert.True(t, res.Success)
		assert.Equal(t, "<html>ok</html>", res.Body)
	})

	t.Run("slower than cutoff", func(t *testing.T) {
		up := forwardProxy(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(150 * time.Millisecond)
			fmt.Fprint(w, "<html>late</html>")
		})
		c := NewCheckerWithConfig(CheckerConfig{
			SpeedLimit:    time.Second,
			TargetTimeout: 2 * time.Second,
			TargetCutoff:  50 * time.Millisecond,
			UserAgent:     testUA,
		}, logger.Nop())
		res := c.CheckTarget(context.Background(), up, "http://www.example.com/")
		assert.False(t, res.Success)
		assert.Equal(t, "<html>late</html>", res.Body)
	})

	t.Run("unreachable proxy", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := l.Addr().(*net.TCPAddr).Port
		require.NoError(t, l.Close())

		up := fetch.Upstream{Protocol: "http", Host: "127.0.0.1", Port: port}
		res := newTestChecker().CheckTarget(context.Background(), up, "http://www.example.com/")
		assert.False(t, res.Success)
		assert.Equal(t, FailedBody, res.Body)
	})
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusHealthy, StatusOf(nil))
	assert.Equal(t, StatusError, StatusOf(fmt.Errorf("plain")))
	assert.Equal(t, "timeout", StatusTimeout.String())
}
