package abctrawl

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/purell"
	"golang.org/x/net/publicsuffix"
)

// NormalizeURL applies the teacher's normalization rules (dankinder-walker's
// url.go Normalize method): safe normalization plus fragment removal. Unlike
// the teacher, this implementation does not need session-id query stripping
// (Fetcher/robots mechanics are outside this core's scope per spec.md §1), so
// only purell's safe flag set is applied.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	purell.NormalizeURL(u, purell.FlagsSafe|purell.FlagRemoveFragment)
	return u.String(), nil
}

// ExtractHost returns the registrable (effective TLD+1) domain for a URL,
// used to key Host rows and to drive the host-policy gate (§4.2). This is the
// generalization of dankinder-walker/url.go's ToplevelDomainPlusOne, which
// wrapped the same x/net/publicsuffix call (formerly
// code.google.com/p/go.net/publicsuffix).
func ExtractHost(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := u.Host
	if host == "" {
		return "", &url.Error{Op: "ExtractHost", URL: raw, Err: errNoHost}
	}
	// publicsuffix operates on bare hostnames, no port.
	if h, _, err := splitHostPort(host); err == nil {
		host = h
	}
	return publicsuffix.EffectiveTLDPlusOne(host)
}

func splitHostPort(hostport string) (host, port string, err error) {
	i := strings.LastIndex(hostport, ":")
	if i < 0 {
		return hostport, "", nil
	}
	return hostport[:i], hostport[i+1:], nil
}

var errNoHost = errStr("url has no host component")

type errStr string

func (e errStr) Error() string { return string(e) }

// URLExtension returns the lower-cased file extension of a URL's path, used
// by the Dispatcher's ABC-tier priority rule (spec.md §4.4).
func URLExtension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}
