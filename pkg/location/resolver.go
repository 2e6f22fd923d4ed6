// Package location resolves the country, region, city and ISP of proxy
// addresses from an offline database with an online fallback.
package location

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ip2location/ip2location-go/v9"

	"proxypool/internal/database"
	"proxypool/internal/logger"
	"proxypool/pkg/failure"
)

// DefaultCooldown is waited before every fallback lookup.
const DefaultCooldown = 10 * time.Second

// Resolver looks up the location of one IP.
type Resolver interface {
	Lookup(ctx context.Context, ip string) (database.Location, error)
}

// complete reports whether every field is known.
func complete(loc database.Location) bool {
	return loc.Country != "" && loc.Region != "" && loc.City != "" && loc.Isp != ""
}

// merge fills the empty fields of base from extra. Non-empty extra values win.
func merge(base, extra database.Location) database.Location {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	return database.Location{
		Country: pick(base.Country, extra.Country),
		Region:  pick(base.Region, extra.Region),
		City:    pick(base.City, extra.City),
		Isp:     pick(base.Isp, extra.Isp),
	}
}

// IP2Location reads an ip2location BIN database.
type IP2Location struct {
	db *ip2location.DB
}

// OpenIP2Location opens the BIN database at path.
func OpenIP2Location(path string) (*IP2Location, error) {
	db, err := ip2location.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ip2location database: %w", err)
	}
	return &IP2Location{db: db}, nil
}

func (r *IP2Location) Lookup(_ context.Context, ip string) (database.Location, error) {
	rec, err := r.db.Get_all(ip)
	if err != nil {
		return database.Location{}, failure.New(failure.KindResolution, "ip2location", err)
	}
	return database.Location{
		Country: clean(rec.Country_long),
		Region:  clean(rec.Region),
		City:    clean(rec.City),
		Isp:     clean(rec.Isp),
	}, nil
}

// Close releases the database file.
func (r *IP2Location) Close() {
	r.db.Close()
}

// clean blanks the placeholders the BIN database uses for missing values.
func clean(v string) string {
	v = strings.TrimSpace(v)
	switch {
	case v == "-", v == "0":
		return ""
	case strings.Contains(v, "unavailable"), strings.Contains(v, "Invalid"):
		return ""
	}
	return v
}

// IPAPI queries an ip-api.com compatible JSON endpoint.
type IPAPI struct {
	client   *resty.Client
	template string
}

type ipAPIResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Country    string `json:"country"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
	Isp        string `json:"isp"`
}

// NewIPAPI creates a client for template, where {ip} is replaced by the
// address being resolved.
func NewIPAPI(template string, timeout time.Duration, userAgent string) *IPAPI {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")
	return &IPAPI{client: client, template: template}
}

func (r *IPAPI) Lookup(ctx context.Context, ip string) (database.Location, error) {
	var out ipAPIResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(strings.ReplaceAll(r.template, "{ip}", ip))
	if err != nil {
		return database.Location{}, failure.Classify("ip-api", err)
	}
	if resp.IsError() {
		return database.Location{}, failure.HTTPStatus("ip-api", resp.StatusCode())
	}
	if out.Status != "success" {
		return database.Location{}, failure.Newf(failure.KindResolution, "ip-api", "status %q: %s", out.Status, out.Message)
	}
	return database.Location{
		Country: strings.TrimSpace(out.Country),
		Region:  strings.TrimSpace(out.RegionName),
		City:    strings.TrimSpace(out.City),
		Isp:     strings.TrimSpace(out.Isp),
	}, nil
}

// Chain consults the primary resolver and falls back to a second one when
// any field is missing.
type Chain struct {
	primary  Resolver
	fallback Resolver
	cooldown time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *logger.Logger
}

// NewChain builds a chain. Either resolver may be nil.
func NewChain(primary, fallback Resolver, cooldown time.Duration, log *logger.Logger) *Chain {
	return &Chain{
		primary:  primary,
		fallback: fallback,
		cooldown: cooldown,
		sleep:    sleepContext,
		logger:   log.Named("location"),
	}
}

// SetSleep replaces the cooldown sleep.
func (c *Chain) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	c.sleep = sleep
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

// Resolve returns the location of ip. When the result is still incomplete a
// KindResolution error is returned together with whatever is known.
func (c *Chain) Resolve(ctx context.Context, ip string) (database.Location, error) {
	var loc database.Location
	if c.primary != nil {
		found, err := c.primary.Lookup(ctx, ip)
		if err != nil {
			c.logger.Debug().Err(err).Str("ip", ip).Msg("primary lookup failed")
		} else {
			loc = found
		}
	}
	if complete(loc) {
		return loc, nil
	}

	if c.fallback == nil {
		return loc, failure.Newf(failure.KindResolution, "resolve", "incomplete location for %s", ip)
	}

	if err := c.sleep(ctx, c.cooldown); err != nil {
		return loc, err
	}

	found, err := c.fallback.Lookup(ctx, ip)
	if err != nil {
		return loc, failure.New(failure.KindResolution, "resolve", err)
	}
	loc = merge(loc, found)
	if !complete(loc) {
		return loc, failure.Newf(failure.KindResolution, "resolve", "incomplete location for %s", ip)
	}
	return loc, nil
}
