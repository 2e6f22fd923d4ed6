package scraper

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// RowFunc maps one table row to a candidate. cells holds the trimmed text of
// each td.
type RowFunc func(row *goquery.Selection, cells []string) (Candidate, bool)

// TableSource extracts candidates from rows matching a CSS selector.
type TableSource struct {
	name     string
	urls     []string
	selector string
	proxy    bool
	row      RowFunc
}

func (s *TableSource) Name() string { return s.name }

func (s *TableSource) URLs(time.Time) []string { return s.urls }

func (s *TableSource) UseProxy() bool { return s.proxy }

func (s *TableSource) Extract(page Page) []Candidate {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil
	}

	var out []Candidate
	doc.Find(s.selector).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td").Map(func(_ int, td *goquery.Selection) string {
			return strings.TrimSpace(td.Text())
		})
		if len(cells) == 0 {
			// header rows use th
			return
		}
		c, ok := s.row(tr, cells)
		if !ok {
			return
		}
		c.Source = page.Host
		out = append(out, c)
	})
	return out
}

// BodyFunc parses a whole response body.
type BodyFunc func(body []byte) []Candidate

// BodySource extracts candidates from plain text or JSON bodies.
type BodySource struct {
	name  string
	urls  func(now time.Time) []string
	proxy bool
	parse BodyFunc
}

func (s *BodySource) Name() string { return s.name }

func (s *BodySource) URLs(now time.Time) []string { return s.urls(now) }

func (s *BodySource) UseProxy() bool { return s.proxy }

func (s *BodySource) Extract(page Page) []Candidate {
	out := s.parse(page.Body)
	for i := range out {
		out[i].Source = page.Host
	}
	return out
}

func fixed(urls ...string) func(time.Time) []string {
	return func(time.Time) []string { return urls }
}

// newCandidate validates ip and port. Only IPv4 addresses are accepted.
func newCandidate(ip, port, protocol string, anonymity int) (Candidate, bool) {
	ip = strings.TrimSpace(ip)
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return Candidate{}, false
	}
	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil || p < 1 || p > 65535 {
		return Candidate{}, false
	}
	if anonymity != Elite {
		anonymity = Transparent
	}
	return Candidate{
		IP:        parsed.To4().String(),
		Port:      p,
		Protocol:  normalizeProtocol(protocol),
		Anonymity: anonymity,
	}, true
}

// candidateFromAddr parses "ip:port".
func candidateFromAddr(addr, protocol string, anonymity int) (Candidate, bool) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return Candidate{}, false
	}
	return newCandidate(host, port, protocol, anonymity)
}

func normalizeProtocol(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	switch {
	case strings.Contains(p, "socks5"):
		return "socks5"
	case strings.Contains(p, "socks4"):
		return "socks4"
	case strings.Contains(p, "https"):
		return "https"
	default:
		return "http"
	}
}

// elite returns Elite when text contains any marker, Transparent otherwise.
func elite(text string, markers ...string) int {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return Elite
		}
	}
	return Transparent
}

// transparentIf returns Transparent when text contains marker, Elite otherwise.
func transparentIf(text, marker string) int {
	if strings.Contains(text, marker) {
		return Transparent
	}
	return Elite
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

// ipPortRow reads ip and port from the given columns.
func ipPortRow(ipCol, portCol int, anon func(cells []string) int, proto func(cells []string) string) RowFunc {
	return func(_ *goquery.Selection, cells []string) (Candidate, bool) {
		if len(cells) <= ipCol || len(cells) <= portCol {
			return Candidate{}, false
		}
		return newCandidate(cells[ipCol], cells[portCol], proto(cells), anon(cells))
	}
}

// addrRow reads "ip:port" from the given column.
func addrRow(addrCol int, anon func(cells []string) int, proto func(cells []string) string) RowFunc {
	return func(_ *goquery.Selection, cells []string) (Candidate, bool) {
		if len(cells) <= addrCol {
			return Candidate{}, false
		}
		return candidateFromAddr(cells[addrCol], proto(cells), anon(cells))
	}
}

func always[T any](v T) func([]string) T {
	return func([]string) T { return v }
}

// parseAddrLines parses "ip:port" lines. Trailing fields after whitespace are
// passed to anon.
func parseAddrLines(protocol string, anon func(rest string) int) BodyFunc {
	return func(body []byte) []Candidate {
		var out []Candidate
		scanner := bufio.NewScanner(bytes.NewReader(body))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.Contains(line, ":") {
				continue
			}
			addr, rest, _ := strings.Cut(line, " ")
			c, ok := candidateFromAddr(addr, protocol, anon(rest))
			if ok {
				out = append(out, c)
			}
		}
		return out
	}
}

// parseProtocolLines parses "protocol://ip:port" lines.
func parseProtocolLines(body []byte) []Candidate {
	var out []Candidate
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		protocol, hostPort, ok := strings.Cut(line, "://")
		if !ok {
			continue
		}
		c, ok := candidateFromAddr(hostPort, protocol, Transparent)
		if ok {
			out = append(out, c)
		}
	}
	return out
}

// parseTypedLines parses "ip:port" lines from a URL whose type query
// parameter names the protocol.
func parseTypedLines(rawURL string) BodyFunc {
	protocol := "http"
	if u, err := url.Parse(rawURL); err == nil && u.Query().Get("type") != "" {
		protocol = u.Query().Get("type")
	}
	return parseAddrLines(protocol, func(string) int { return Transparent })
}

// clarketmAnonymity reads the "CC-A-S" flags of the clarketm list: H and A
// hide the client.
func clarketmAnonymity(rest string) int {
	flags := strings.Fields(rest)
	if len(flags) == 0 {
		return Transparent
	}
	fields := strings.Split(flags[0], "-")
	if len(fields) > 1 && (strings.HasPrefix(fields[1], "H") || strings.HasPrefix(fields[1], "A")) {
		return Elite
	}
	return Transparent
}

type geonodeResponse struct {
	Data []geonodeProxy `json:"data"`
}

type geonodeProxy struct {
	IP             string   `json:"ip"`
	Port           string   `json:"port"`
	Protocols      []string `json:"protocols"`
	AnonymityLevel string   `json:"anonymityLevel"`
}

func parseGeonode(body []byte) []Candidate {
	var resp geonodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}

	var out []Candidate
	for _, p := range resp.Data {
		anon := Transparent
		if p.AnonymityLevel == "elite" || p.AnonymityLevel == "anonymous" {
			anon = Elite
		}
		for _, protocol := range p.Protocols {
			if c, ok := newCandidate(p.IP, p.Port, protocol, anon); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

type checkerProxyEntry struct {
	Addr string `json:"addr"`
}

func parseCheckerProxy(body []byte) []Candidate {
	var entries []checkerProxyEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil
	}

	var out []Candidate
	for _, e := range entries {
		if c, ok := candidateFromAddr(e.Addr, "http", Transparent); ok {
			out = append(out, c)
		}
	}
	return out
}
