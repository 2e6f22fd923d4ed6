package database

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"proxypool/internal/database/models/model"
	"proxypool/pkg/fetch"
)

// Anonymity levels
const (
	Transparent = 1
	Elite       = 2
)

// ErrNotFound is returned when no record matches a key.
var ErrNotFound = errors.New("proxy not found")

// ErrInvalidQuery is returned for list or update input the store rejects.
var ErrInvalidQuery = errors.New("invalid query")

// Key identifies a proxy record.
type Key struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// KeyOf returns the key of a stored record.
func KeyOf(rec *model.ProxyIps) Key {
	return Key{IP: rec.IP, Port: int(rec.Port), Protocol: rec.Protocol}
}

// Address returns ip:port.
func (k Key) Address() string {
	return net.JoinHostPort(k.IP, strconv.Itoa(k.Port))
}

// Upstream returns the key as a proxy to route requests through.
func (k Key) Upstream() fetch.Upstream {
	return fetch.Upstream{Protocol: k.Protocol, Host: k.IP, Port: k.Port}
}

// String returns the cache key form protocol://ip:port.
func (k Key) String() string {
	return fmt.Sprintf("%s://%s", k.Protocol, k.Address())
}

// NewProxy is a validated candidate ready for insertion.
type NewProxy struct {
	Key
	Anonymity int
	Source    string
	Speed     int
}

// Patch holds the administratively editable fields. Nil fields are left alone.
type Patch struct {
	Anonymity *int    `json:"anonymity,omitempty"`
	Country   *string `json:"country,omitempty"`
	Region    *string `json:"region,omitempty"`
	City      *string `json:"city,omitempty"`
	Isp       *string `json:"isp,omitempty"`
	Speed     *int    `json:"speed,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Anonymity == nil && p.Country == nil && p.Region == nil &&
		p.City == nil && p.Isp == nil && p.Speed == nil
}

// Location fields resolved for an IP.
type Location struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	Isp     string `json:"isp"`
}

// Query filters, orders and paginates List.
type Query struct {
	Page      int
	PageSize  int
	Country   string
	ISP       string
	Protocol  string
	Anonymity int
	OrderBy   string
	OrderRule string
}

// Page is one page of List results.
type Page struct {
	Items    []model.ProxyIps `json:"items"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	LastPage int              `json:"last_page"`
}

// SweepCursor tracks a keyset position in an oldest-validated-first sweep.
// Records validated after Until are not returned.
type SweepCursor struct {
	Until   time.Time
	AfterAt time.Time
	AfterID string
}

// ProxyStats contains statistics about the proxy database
type ProxyStats struct {
	Total      int            `json:"total"`
	Located    int            `json:"located"`
	AvgSpeedMs float64        `json:"avg_speed_ms"`
	ByProtocol map[string]int `json:"by_protocol"`
	ByAnon     map[int]int    `json:"by_anonymity"`
}

// Now returns the store's timestamp for the current instant.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
