//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// DefaultHTTPClient flags requests made without internal/httpclient. The
// shared client adds the User-Agent Wikimedia requires, the default timeout
// and the metrics hooks.
func DefaultHTTPClient(m dsl.Matcher) {
	m.Import("net/http")

	m.Match(`http.Get($*_)`, `http.Post($*_)`, `http.PostForm($*_)`, `http.Head($*_)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("use internal/httpclient instead of the net/http default client")

	m.Match(`http.DefaultClient`).
		Where(!m.File().PkgPath.Matches(`/internal/httpclient$`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("use internal/httpclient instead of http.DefaultClient")
}

// JoinHostPort detects manual host:port concatenation, which breaks for
// IPv6 brokers and backends.
func JoinHostPort(m dsl.Matcher) {
	m.Match(`fmt.Sprintf("%s:%d", $host, $port)`).
		Report("use net.JoinHostPort($host, strconv.Itoa($port)) instead of fmt.Sprintf for host:port")

	m.Match(`fmt.Sprintf("%s:%s", $host, $port)`).
		Where(m["host"].Text.Matches(`(?i)host`)).
		Report("use net.JoinHostPort($host, $port) instead of fmt.Sprintf for host:port")
}
