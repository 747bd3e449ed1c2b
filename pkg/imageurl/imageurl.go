// Package imageurl canonicalizes image URLs found in post markup and derives
// the stable local filename for each of them.
package imageurl

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"feedarchiver/pkg/errors"
)

// Width values understood by the image host
const (
	WidthOriginal = 0
	WidthBounded  = 1080
)

const widthParam = "width"

var (
	postIDPattern   = regexp.MustCompile(`/diaries/(\d+)/`)
	embeddedPattern = regexp.MustCompile(`(?i)https?%3A%2F%2F`)
)

// Filter keeps URLs under one trusted origin prefix
type Filter struct {
	prefix string
}

// NewFilter creates a filter for the given origin prefix, e.g. "https://image.codmon.com/"
func NewFilter(prefix string) *Filter {
	return &Filter{prefix: prefix}
}

// Trusted reports whether u is under the trusted origin
func (f *Filter) Trusted(u string) bool {
	return f.prefix != "" && strings.HasPrefix(u, f.prefix)
}

// Canonical turns a raw attribute value into an absolute trusted URL. HTML
// entities are unescaped and protocol-relative URLs get https. A value that
// is not itself trusted but embeds a percent-encoded URL (a redirect target,
// for example) is decoded and checked again. Query strings of trusted URLs
// are left encoded so signed parameters survive untouched.
func (f *Filter) Canonical(raw string) (string, bool) {
	s := absolute(html.UnescapeString(strings.TrimSpace(raw)))
	if s == "" {
		return "", false
	}
	if f.Trusted(s) {
		return s, true
	}

	loc := embeddedPattern.FindStringIndex(s)
	if loc == nil {
		return "", false
	}
	embedded := s[loc[0]:]
	if amp := strings.IndexByte(embedded, '&'); amp >= 0 {
		embedded = embedded[:amp]
	}
	decoded, err := url.QueryUnescape(embedded)
	if err != nil {
		return "", false
	}
	decoded = absolute(decoded)
	if !f.Trusted(decoded) {
		return "", false
	}
	return decoded, true
}

func absolute(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	return s
}

// Candidates splits an attribute value into URL candidates. srcset style
// values ("a.jpg 1x, b.jpg 2x") yield one candidate per entry.
func Candidates(attr, value string) []string {
	if attr != "srcset" && attr != "data-srcset" {
		return []string{value}
	}
	var out []string
	for _, entry := range strings.Split(value, ",") {
		fields := strings.Fields(entry)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

// RewriteWidth returns u with its width query parameter set to width.
// Every other parameter keeps its original position, key and encoding.
func RewriteWidth(u string, width int) (string, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", errors.Wrap(errors.ErrorTypeDownload, err, "invalid image URL")
	}

	value := widthParam + "=" + strconv.Itoa(width)
	var parts []string
	replaced := false
	if parsed.RawQuery != "" {
		for _, part := range strings.Split(parsed.RawQuery, "&") {
			key := part
			if i := strings.IndexByte(part, '='); i >= 0 {
				key = part[:i]
			}
			if key != widthParam {
				parts = append(parts, part)
				continue
			}
			if !replaced {
				parts = append(parts, value)
				replaced = true
			}
		}
	}
	if !replaced {
		parts = append(parts, value)
	}

	parsed.RawQuery = strings.Join(parts, "&")
	return parsed.String(), nil
}

// OriginalFilename returns the sanitized last path segment of u: percent
// decoded, with whitespace, '+' and path separators replaced by '_'.
func OriginalFilename(u string) (string, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", errors.Wrap(errors.ErrorTypeDownload, err, "invalid image URL")
	}

	escaped := parsed.EscapedPath()
	segment := path.Base(escaped)
	if escaped == "" || strings.HasSuffix(escaped, "/") || segment == "." {
		return "", errors.New(errors.ErrorTypeDownload, "image URL %q has no filename", u)
	}
	if decoded, err := url.PathUnescape(segment); err == nil {
		segment = decoded
	}

	name := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '+' || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, segment)

	if strings.Trim(name, "._") == "" {
		return "", errors.New(errors.ErrorTypeDownload, "image URL %q has no usable filename", u)
	}
	return name, nil
}

// PostID extracts the post identifier from a /diaries/<id>/ path, or ""
func PostID(u string) string {
	if m := postIDPattern.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return ""
}

// CorrelationKey returns the post identifier when known, otherwise the
// time-of-day stamp of the post followed by a short hash of the URL's path.
// A zero ts means the post time is not stable across runs; the key is then
// the path hash alone.
func CorrelationKey(postID string, ts time.Time, u string) string {
	switch {
	case postID != "":
		return postID
	case ts.IsZero():
		return "p" + pathHash(u)
	default:
		return ts.Format("150405") + "-" + pathHash(u)
	}
}

// DestinationName builds the local filename "<key>_<original filename>"
func DestinationName(key, u string) (string, error) {
	name, err := OriginalFilename(u)
	if err != nil {
		return "", err
	}
	return key + "_" + name, nil
}

func pathHash(u string) string {
	p := u
	if parsed, err := url.Parse(u); err == nil {
		p = parsed.EscapedPath()
	}
	sum := sha1.Sum([]byte(p))
	return hex.EncodeToString(sum[:])[:6]
}
