package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(KindContentMismatch, "probe", errors.New("marker missing")))
	assert.Equal(t, KindContentMismatch, KindOf(err))
	assert.True(t, Is(err, KindContentMismatch))
	assert.False(t, Is(err, KindTimeout))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindUnknown))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"refused", &net.OpError{Op: "read", Err: syscall.ECONNREFUSED}, KindConnectivity},
		{"reset text", errors.New("read tcp: connection reset by peer"), KindConnectivity},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.invalid"}, KindConnectivity},
		{"other", errors.New("malformed response"), KindUnknown},
		{"already classified", HTTPStatus("fetch", 503), KindHTTPStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(Classify("fetch", tt.err)))
		})
	}
	assert.NoError(t, Classify("fetch", nil))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "fetch: http_status (HTTP 404)", HTTPStatus("fetch", 404).Error())
	err := New(KindTimeout, "probe", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "probe: timeout: context deadline exceeded", err.Error())
}

func TestIsNetwork(t *testing.T) {
	assert.True(t, IsNetwork(New(KindTimeout, "fetch", nil)))
	assert.True(t, IsNetwork(New(KindConnectivity, "fetch", nil)))
	assert.False(t, IsNetwork(HTTPStatus("fetch", 500)))
	assert.False(t, IsNetwork(errors.New("raw")))
}
