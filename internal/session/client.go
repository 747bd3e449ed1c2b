package session

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"
)

// ClientOptions configures NewHTTPClient
type ClientOptions struct {
	// CookieDomain selects which browser cookies are carried over
	CookieDomain string
	Timeout      time.Duration
}

// NewHTTPClient builds a client that presents the browser session: the
// cookies whose domain contains CookieDomain and the browser's user agent.
func NewHTTPClient(cookies []*http.Cookie, userAgent string, opts ClientOptions) (*resty.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	for _, c := range cookies {
		if opts.CookieDomain != "" && !strings.Contains(c.Domain, opts.CookieDomain) {
			continue
		}
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}
		jar.SetCookies(&url.URL{Scheme: "https", Host: host, Path: "/"}, []*http.Cookie{c})
	}

	client := resty.New().SetCookieJar(jar)
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return client, nil
}
