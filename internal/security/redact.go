// Package security keeps credentials out of logs and keeps the HTTP client
// away from internal addresses. The Redactor masks secrets in URLs, headers
// and free text; the URLGuard validates every URL and every connected peer
// before a byte of response is consumed.
package security

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// marker replaces secret values. Values already containing the marker are
// left alone, which makes redaction idempotent.
const marker = "***"

// revealThreshold is the minimum secret length at which two leading and two
// trailing characters stay visible for correlation.
const revealThreshold = 20

var sensitiveKeys = map[string]struct{}{
	"accessid":               {},
	"apikey":                 {},
	"token":                  {},
	"accesstoken":            {},
	"idtoken":                {},
	"refreshtoken":           {},
	"authorization":          {},
	"password":               {},
	"passwd":                 {},
	"secret":                 {},
	"clientsecret":           {},
	"clientassertion":        {},
	"nonce":                  {},
	"state":                  {},
	"code":                   {},
	"cookie":                 {},
	"privatetoken":           {},
	"ocpapimsubscriptionkey": {},
}

var sensitivePrefixes = []string{"saml", "session", "xgoog"}

// Header stripping on cross origin redirects uses a broader contains
// heuristic than the exact key blocklist.
var sensitiveHeaderTokens = []string{"token", "secret", "auth", "apikey", "cookie", "session"}

var (
	urlRe = regexp.MustCompile(`https?://[^\s"'<>]+`)
	kvRe  = regexp.MustCompile(`(?i)\b([A-Za-z][A-Za-z0-9_\-]*)\s*=\s*("[^"]*"|'[^']*'|[^\s&"'<>]+)`)
)

// Redactor masks credentials in text destined for logs.
type Redactor struct{}

// NewRedactor returns a Redactor with the built-in blocklist.
func NewRedactor() *Redactor {
	return &Redactor{}
}

// Default is the process wide Redactor.
var Default = NewRedactor()

// Redact masks secrets in s: URL userinfo, sensitive query parameters,
// fragments that look like query strings, then free text key=value pairs.
// Applying it twice yields the same result.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	out := urlRe.ReplaceAllStringFunc(s, r.RedactURL)
	out = kvRe.ReplaceAllStringFunc(out, func(match string) string {
		sub := kvRe.FindStringSubmatch(match)
		if sub == nil || !r.IsSensitiveKey(sub[1]) {
			return match
		}
		return sub[1] + "=" + maskQuoted(sub[2])
	})
	return out
}

// Redact masks secrets using the default Redactor.
func Redact(s string) string {
	return Default.Redact(s)
}

// RedactError is a convenience for error messages.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return Default.Redact(err.Error())
}

// IsSensitiveHeader reports via the default Redactor whether a header must
// never cross an origin boundary or appear in logs.
func IsSensitiveHeader(name string) bool {
	return Default.IsSensitiveHeader(name)
}

// RedactURL masks userinfo, sensitive query parameters and fragment
// parameters of a single URL.
func (r *Redactor) RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return kvRe.ReplaceAllStringFunc(rawURL, func(match string) string {
			sub := kvRe.FindStringSubmatch(match)
			if sub == nil || !r.IsSensitiveKey(sub[1]) {
				return match
			}
			return sub[1] + "=" + maskQuoted(sub[2])
		})
	}
	if u.User != nil {
		u.User = url.User(marker)
	}
	if u.RawQuery != "" {
		u.RawQuery = r.redactQuery(u.RawQuery)
	}
	if u.Fragment != "" && strings.Contains(u.Fragment, "=") {
		// The fragment field holds the decoded form, redactQuery returns
		// the encoded one.
		frag := r.redactQuery(u.Fragment)
		if dec, err := url.QueryUnescape(frag); err == nil {
			frag = dec
		}
		u.Fragment = frag
	}
	// Values.Encode escapes the marker; restore it so output is stable.
	return strings.ReplaceAll(u.String(), "%2A%2A%2A", marker)
}

func (r *Redactor) redactQuery(rawQuery string) string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return marker
	}
	changed := false
	for key, vals := range values {
		if !r.IsSensitiveKey(key) {
			continue
		}
		for i, v := range vals {
			if m := mask(v); m != v {
				vals[i] = m
				changed = true
			}
		}
		values[key] = vals
	}
	if !changed {
		return rawQuery
	}
	return values.Encode()
}

// RedactHeaders renders headers for logging with sensitive values masked.
func (r *Redactor) RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, vals := range h {
		v := strings.Join(vals, ", ")
		if r.IsSensitiveHeader(name) {
			v = mask(v)
		}
		out[name] = v
	}
	return out
}

// IsSensitiveKey reports whether a query parameter or key=value key is on
// the blocklist. Keys are compared lowercased with separators removed.
func (r *Redactor) IsSensitiveKey(key string) bool {
	n := normalizeKey(key)
	if _, ok := sensitiveKeys[n]; ok {
		return true
	}
	for _, p := range sensitivePrefixes {
		if strings.HasPrefix(n, p) {
			return true
		}
	}
	return false
}

// IsSensitiveHeader reports whether a header must never cross an origin
// boundary and never reach a log unmasked.
func (r *Redactor) IsSensitiveHeader(name string) bool {
	n := normalizeKey(name)
	for _, tok := range sensitiveHeaderTokens {
		if strings.Contains(n, tok) {
			return true
		}
	}
	for _, p := range sensitivePrefixes {
		if strings.HasPrefix(n, p) {
			return true
		}
	}
	return n == "ocpapimsubscriptionkey" || n == "privatetoken"
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ':
			return -1
		}
		return r
	}, key)
}

func mask(value string) string {
	if value == "" || strings.Contains(value, marker) {
		return value
	}
	runes := []rune(value)
	if len(runes) >= revealThreshold {
		return string(runes[:2]) + marker + string(runes[len(runes)-2:])
	}
	return marker
}

func maskQuoted(value string) string {
	if len(value) >= 2 {
		if q := value[0]; (q == '"' || q == '\'') && value[len(value)-1] == q {
			return string(q) + mask(value[1:len(value)-1]) + string(q)
		}
	}
	return mask(value)
}
