// Package urlnorm normalizes operator-supplied probe targets into
// fetchable URLs and derives filesystem-safe names from them.
package urlnorm

import (
	"encoding/base64"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"
)

// Normalize turns raw input into a fetchable URL:
//   - base64-encoded payloads are decoded (targets are often shared in
//     encoded form to dodge chat-client link mangling)
//   - a missing scheme defaults to https
//   - extensionless, query-less paths get a trailing slash so origins
//     treat them as directories instead of issuing a redirect
//
// Normalize never fails; input it cannot improve passes through as-is.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s
	}

	if dec, ok := decodeBase64(s); ok {
		s = dec
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	if u.Path == "" {
		u.Path = "/"
	} else if !strings.HasSuffix(u.Path, "/") && path.Ext(u.Path) == "" && u.RawQuery == "" {
		u.Path += "/"
	}
	return u.String()
}

// decodeBase64 tries the common base64 alphabets and accepts the result
// only when it plausibly is a URL. Hostnames contain dots, which are not
// in any base64 alphabet, so plain URLs never decode by accident.
func decodeBase64(s string) (string, bool) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		d := strings.TrimSpace(string(b))
		if !utf8.ValidString(d) {
			continue
		}
		if strings.Contains(d, "://") || strings.Contains(d, ".") {
			return d, true
		}
	}
	return "", false
}

// FileNameFromURL sanitizes a URL into a safe filename stem for exported
// artifacts. Everything outside [A-Za-z0-9._-] collapses to a single
// underscore; an unusable URL falls back to "probe".
func FileNameFromURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	base := rawURL
	if err == nil && u.Host != "" {
		base = u.Host + u.Path
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	name := strings.Trim(b.String(), "._-")
	if len(name) > 120 {
		name = name[:120]
	}
	if name == "" {
		return "probe"
	}
	return name
}
