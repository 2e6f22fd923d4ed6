package scraper

import (
	"context"
	"net/url"
	"time"

	"github.com/sourcegraph/conc"

	"proxypool/internal/logger"
	"proxypool/pkg/failure"
	"proxypool/pkg/fetch"
)

// DefaultPageDelay is the pause between two pages of the same source.
const DefaultPageDelay = 3 * time.Second

// Runner fetches the pages of one source strictly in order.
type Runner struct {
	client    *fetch.Client
	dispatch  Dispatcher
	upstreams UpstreamProvider
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	logger    *logger.Logger
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithPageDelay sets the pause between pages.
func WithPageDelay(d time.Duration) RunnerOption {
	return func(r *Runner) { r.delay = d }
}

// WithUpstreams sets where proxied sources get their upstream from.
func WithUpstreams(p UpstreamProvider) RunnerOption {
	return func(r *Runner) { r.upstreams = p }
}

// WithSleep replaces the page delay sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) { r.sleep = sleep }
}

// WithClock replaces the clock used to build dated URLs.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner that hands every candidate to dispatch.
func NewRunner(client *fetch.Client, dispatch Dispatcher, log *logger.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:   client,
		dispatch: dispatch,
		delay:    DefaultPageDelay,
		sleep:    sleepContext,
		now:      time.Now,
		logger:   log.Named("scraper"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run fetches every page of src. A connectivity or timeout failure stops the
// source; any other failure skips the page.
func (r *Runner) Run(ctx context.Context, src Source) Report {
	report := Report{Source: src.Name()}
	log := r.logger.With("source", src.Name())

	upstream := r.upstream(ctx, src, log)

	for i, pageURL := range src.URLs(r.now()) {
		if i > 0 {
			if err := r.sleep(ctx, r.delay); err != nil {
				report.Aborted = true
				report.Err = err
				return report
			}
		}

		report.Pages++
		resp, err := r.client.Get(ctx, pageURL, upstream)
		if err != nil {
			report.Failed++
			if failure.IsNetwork(err) || ctx.Err() != nil {
				log.Warn().Err(err).Str("url", pageURL).Msg("source unreachable, skipping remaining pages")
				report.Aborted = true
				report.Err = err
				return report
			}
			log.Warn().Err(err).Str("url", pageURL).Msg("page fetch failed")
			continue
		}

		page := Page{URL: pageURL, Host: hostOf(pageURL), Body: resp.Body}
		candidates := src.Extract(page)
		for _, c := range candidates {
			if err := r.dispatch.Dispatch(ctx, c); err != nil {
				log.Warn().Err(err).Str("proxy", c.IP).Msg("dispatch failed")
				continue
			}
			report.Candidates++
		}
		log.Debug().Str("url", pageURL).Int("candidates", len(candidates)).Msg("page scraped")
	}

	return report
}

func (r *Runner) upstream(ctx context.Context, src Source, log *logger.Logger) *fetch.Upstream {
	if !src.UseProxy() || r.upstreams == nil {
		return nil
	}
	up, err := r.upstreams.Upstream(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("no upstream proxy, fetching directly")
		return nil
	}
	return up
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

// MultiScraper runs several sources side by side.
type MultiScraper struct {
	runner  *Runner
	sources []Source
	logger  *logger.Logger
}

// NewMultiScraper creates a scraper over the given sources.
func NewMultiScraper(runner *Runner, sources []Source, log *logger.Logger) *MultiScraper {
	return &MultiScraper{
		runner:  runner,
		sources: sources,
		logger:  log.Named("multiscraper"),
	}
}

// Sources returns the configured source names.
func (m *MultiScraper) Sources() []string {
	names := make([]string, 0, len(m.sources))
	for _, s := range m.sources {
		names = append(names, s.Name())
	}
	return names
}

// ScrapeAll runs every source in its own goroutine and waits for all of them.
func (m *MultiScraper) ScrapeAll(ctx context.Context) []Report {
	var wg conc.WaitGroup
	reports := make([]Report, len(m.sources))

	for i, src := range m.sources {
		wg.Go(func() {
			reports[i] = m.runner.Run(ctx, src)
		})
	}
	wg.Wait()

	total := 0
	for _, r := range reports {
		total += r.Candidates
		m.logger.Info().Str("source", r.Source).
			Int("pages", r.Pages).
			Int("failed", r.Failed).
			Int("candidates", r.Candidates).
			Bool("aborted", r.Aborted).
			Msg("source finished")
	}
	m.logger.Info().Int("candidates", total).Msg("scrape round finished")

	return reports
}
