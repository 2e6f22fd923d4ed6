package scraper

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Builtin returns every known source keyed by name.
func Builtin() map[string]Source {
	sources := []Source{
		kuaidaili(),
		ip3366(),
		ip89(),
		xiladaili(),
		emailtry(),
		qinghuadaili(),
		kxdaili(),
		nimadaili(),
		superfastip(),
		xicidaili(),
		seofangfa(),
		proxylistme(),
		foxtools(),
		proxylistdownload(),
		checkerproxy(),
		proxyscrape(),
		geonode(),
		proxifly(),
		proxylistorg(),
	}

	out := make(map[string]Source, len(sources))
	for _, s := range sources {
		out[s.Name()] = s
	}
	return out
}

// Lookup returns the named sources in order. Unknown names are an error.
func Lookup(names []string) ([]Source, error) {
	all := Builtin()
	out := make([]Source, 0, len(names))
	for _, name := range names {
		s, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		out = append(out, s)
	}
	return out, nil
}

func pages(format string, from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf(format, i))
	}
	return out
}

func httpsIf(col int) func([]string) string {
	return func(cells []string) string {
		if strings.Contains(strings.ToUpper(cell(cells, col)), "HTTPS") {
			return "https"
		}
		return "http"
	}
}

func eliteIf(col int, markers ...string) func([]string) int {
	return func(cells []string) int {
		return elite(cell(cells, col), markers...)
	}
}

func kuaidaili() Source {
	return &TableSource{
		name: "kuaidaili",
		urls: []string{
			"http://www.kuaidaili.com/free/inha/",
			"http://www.kuaidaili.com/free/inha/2/",
			"http://www.kuaidaili.com/free/inha/3/",
			"http://www.kuaidaili.com/free/intr/",
			"http://www.kuaidaili.com/free/intr/2/",
			"http://www.kuaidaili.com/free/intr/3/",
		},
		selector: "#list table tr",
		proxy:    true,
		row: ipPortRow(0, 1, func(cells []string) int {
			if cell(cells, 2) == "高匿名" {
				return Elite
			}
			return Transparent
		}, func(cells []string) string { return cell(cells, 3) }),
	}
}

func ip3366() Source {
	var urls []string
	for stype := 1; stype <= 4; stype++ {
		for page := 1; page <= 2; page++ {
			urls = append(urls, fmt.Sprintf("http://www.ip3366.net/free/?stype=%d&page=%d", stype, page))
		}
	}
	return &TableSource{
		name:     "ip3366",
		urls:     urls,
		selector: "#list table tr",
		proxy:    true,
		row:      ipPortRow(0, 1, eliteIf(2, "高匿"), func(cells []string) string { return cell(cells, 3) }),
	}
}

func ip89() Source {
	return &TableSource{
		name:     "89ip",
		urls:     pages("http://www.89ip.cn/index_%d.html", 1, 15),
		selector: "table.layui-table tbody tr",
		proxy:    true,
		row:      ipPortRow(0, 1, always(Elite), always("http")),
	}
}

func xiladaili() Source {
	urls := []string{"http://www.xiladaili.com/gaoni/"}
	urls = append(urls, pages("http://www.xiladaili.com/gaoni/%d/", 2, 6)...)
	urls = append(urls, "http://www.xiladaili.com/putong/")
	urls = append(urls, pages("http://www.xiladaili.com/putong/%d/", 2, 6)...)
	return &TableSource{
		name:     "xiladaili",
		urls:     urls,
		selector: "table.fl-table tbody tr",
		proxy:    true,
		row: addrRow(0, func(cells []string) int {
			return transparentIf(cell(cells, 1), "透明")
		}, httpsIf(1)),
	}
}

func emailtry() Source {
	return &TableSource{
		name: "emailtry",
		urls: pages("http://emailtry.com/index/%d", 1, 10),
		// the parser inserts tbody, so no child combinator
		selector: "table#proxy-table1 tr",
		proxy:    true,
		row:      addrRow(0, always(Elite), always("http")),
	}
}

func qinghuadaili() Source {
	return &TableSource{
		name:     "qinghuadaili",
		urls:     pages("http://www.qinghuadaili.com/free/%d/", 1, 6),
		selector: ".container-fluid table tbody tr",
		proxy:    true,
		row:      ipPortRow(0, 1, eliteIf(2, "高匿"), httpsIf(3)),
	}
}

func kxdaili() Source {
	return &TableSource{
		name: "kxdaili",
		urls: []string{
			"http://www.kxdaili.com/dailiip.html",
			"http://www.kxdaili.com/dailiip/1/2.html",
			"http://www.kxdaili.com/dailiip/1/3.html",
			"http://www.kxdaili.com/dailiip/2/1.html",
			"http://www.kxdaili.com/dailiip/2/2.html",
			"http://www.kxdaili.com/dailiip/2/3.html",
		},
		selector: ".hot-product-content table tbody tr",
		proxy:    true,
		row:      ipPortRow(0, 1, eliteIf(2, "高匿"), httpsIf(3)),
	}
}

func nimadaili() Source {
	urls := []string{
		"http://www.nimadaili.com/putong/",
		"http://www.nimadaili.com/putong/2/",
		"http://www.nimadaili.com/putong/3/",
	}
	urls = append(urls, pages("http://www.nimadaili.com/gaoni/%d/", 1, 3)...)
	urls = append(urls, pages("http://www.nimadaili.com/http/%d/", 1, 3)...)
	urls = append(urls, pages("http://www.nimadaili.com/https/%d/", 1, 2)...)
	return &TableSource{
		name:     "nimadaili",
		urls:     urls,
		selector: "table.fl-table tbody tr",
		proxy:    true,
		row: addrRow(0, func(cells []string) int {
			return transparentIf(cell(cells, 1), "普通")
		}, httpsIf(1)),
	}
}

func superfastip() Source {
	return &TableSource{
		name:     "superfastip",
		urls:     pages("http://www.superfastip.com/welcome/freeip/%d", 1, 10),
		selector: "table tbody tr",
		proxy:    true,
		row:      ipPortRow(0, 1, always(Elite), httpsIf(3)),
	}
}

func xicidaili() Source {
	var urls []string
	for _, kind := range []string{"nn", "nt", "wn", "wt"} {
		urls = append(urls,
			"https://www.xicidaili.com/"+kind+"/",
			"https://www.xicidaili.com/"+kind+"/2",
			"https://www.xicidaili.com/"+kind+"/3",
		)
	}
	return &TableSource{
		name:     "xicidaili",
		urls:     urls,
		selector: "#ip_list tr",
		proxy:    true,
		row:      ipPortRow(1, 2, eliteIf(4, "高匿"), httpsIf(5)),
	}
}

func seofangfa() Source {
	return &TableSource{
		name:     "seofangfa",
		urls:     []string{"https://seofangfa.com/proxy/"},
		selector: "table tr",
		proxy:    true,
		row:      ipPortRow(0, 1, always(Transparent), always("http")),
	}
}

func proxylistme() Source {
	return &TableSource{
		name:     "proxylistme",
		urls:     pages("https://proxylist.me/?page=%d", 1, 6),
		selector: "#datatable-row-highlight tr",
		proxy:    true,
		row: func(row *goquery.Selection, cells []string) (Candidate, bool) {
			ip := strings.TrimSpace(row.Find("td").First().Find("a").Text())
			if ip == "" {
				ip = cell(cells, 0)
			}
			protocol := "http"
			if strings.Contains(strings.ToLower(cell(cells, 3)), "https") {
				protocol = "https"
			}
			return newCandidate(ip, cell(cells, 1), protocol, Transparent)
		},
	}
}

func foxtools() Source {
	return &BodySource{
		name:  "foxtools",
		urls:  fixed("http://api.foxtools.ru/v2/Proxy.txt?page=1"),
		proxy: true,
		parse: parseAddrLines("http", func(string) int { return Transparent }),
	}
}

// proxylistdownload serves one protocol per URL, so it is a source per URL
// joined under one name.
type typedListSource struct {
	name  string
	urls  []string
	proxy bool
}

func (s *typedListSource) Name() string { return s.name }

func (s *typedListSource) URLs(time.Time) []string { return s.urls }

func (s *typedListSource) UseProxy() bool { return s.proxy }

func (s *typedListSource) Extract(page Page) []Candidate {
	out := parseTypedLines(page.URL)(page.Body)
	for i := range out {
		out[i].Source = page.Host
	}
	return out
}

func proxylistdownload() Source {
	return &typedListSource{
		name: "proxylistdownload",
		urls: []string{
			"https://www.proxy-list.download/api/v1/get?type=http",
			"https://www.proxy-list.download/api/v1/get?type=https",
			"https://www.proxy-list.download/api/v1/get?type=socks4",
			"https://www.proxy-list.download/api/v1/get?type=socks5",
		},
		proxy: true,
	}
}

func checkerproxy() Source {
	return &BodySource{
		name: "checkerproxy",
		urls: func(now time.Time) []string {
			day := now.AddDate(0, 0, -1).Format("2006-01-02")
			return []string{"https://checkerproxy.net/api/archive/" + day}
		},
		parse: parseCheckerProxy,
	}
}

func proxyscrape() Source {
	return &BodySource{
		name:  "proxyscrape",
		urls:  fixed("https://api.proxyscrape.com/v4/free-proxy-list/get?request=get_proxies&proxy_format=protocolipport&format=text"),
		parse: parseProtocolLines,
	}
}

func geonode() Source {
	return &BodySource{
		name:  "geonode",
		urls:  fixed("https://proxylist.geonode.com/api/proxy-list?limit=500"),
		parse: parseGeonode,
	}
}

func proxifly() Source {
	return &BodySource{
		name:  "proxifly",
		urls:  fixed("https://raw.githubusercontent.com/proxifly/free-proxy-list/refs/heads/main/proxies/all/data.txt"),
		parse: parseProtocolLines,
	}
}

func proxylistorg() Source {
	return &BodySource{
		name: "proxylistorg",
		urls: fixed(
			"https://raw.githubusercontent.com/clarketm/proxy-list/master/proxy-list-raw.txt",
			"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
		),
		parse: parseAddrLines("http", clarketmAnonymity),
	}
}
