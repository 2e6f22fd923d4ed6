package scraper

import (
	"context"
	"time"

	"proxypool/pkg/fetch"
)

// Anonymity levels reported by sources
const (
	Transparent = 1
	Elite       = 2
)

// Candidate is a scraped, not yet validated proxy address.
type Candidate struct {
	Source    string
	IP        string
	Port      int
	Protocol  string
	Anonymity int
}

// Page is one fetched source page.
type Page struct {
	URL  string
	Host string
	Body []byte
}

// Source enumerates a fixed list of page URLs and extracts candidates from
// each fetched page.
type Source interface {
	Name() string
	URLs(now time.Time) []string
	// UseProxy reports whether pages should be fetched through a stored proxy.
	UseProxy() bool
	Extract(page Page) []Candidate
}

// Dispatcher receives every extracted candidate.
type Dispatcher interface {
	Dispatch(ctx context.Context, c Candidate) error
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, c Candidate) error

func (f DispatchFunc) Dispatch(ctx context.Context, c Candidate) error {
	return f(ctx, c)
}

// UpstreamProvider supplies a proxy to fetch sources through. A nil upstream
// means fetch directly.
type UpstreamProvider interface {
	Upstream(ctx context.Context) (*fetch.Upstream, error)
}

// Report summarises one run of a source.
type Report struct {
	Source     string
	Pages      int
	Failed     int
	Candidates int
	Aborted    bool
	Err        error
}
