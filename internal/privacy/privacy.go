// Package privacy scrubs URLs, credentials and API keys from messages
// before they leave the process in telemetry or logs.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

var (
	// URLs in free text
	urlPattern = regexp.MustCompile(`\b(?:https?|mysql|tcp)://\S+`)

	// user:password@tcp(host) form of a MySQL DSN
	mysqlDSNPattern = regexp.MustCompile(`\b[^\s:/@]+:[^\s@]*@(?:tcp|unix)\([^)]*\)`)

	// bearer tokens and key=value style secrets
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
	secretPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|token|password|secret)(["']?\s*[:=]\s*["']?)[^\s"'&,]+`)
)

const redacted = "[REDACTED]"

// ScrubMessage anonymizes URLs and redacts credentials in message
func ScrubMessage(message string) string {
	message = mysqlDSNPattern.ReplaceAllString(message, redacted+"@db")
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	message = bearerPattern.ReplaceAllString(message, "Bearer "+redacted)
	return secretPattern.ReplaceAllString(message, "${1}${2}"+redacted)
}

// AnonymizeURL replaces a URL with a stable hash of its shape. Scheme, host
// category, port and path structure feed the hash; credentials, host names,
// path segment values and the query do not.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var normalizedParts []string
	if parsedURL.Scheme != "" {
		normalizedParts = append(normalizedParts, parsedURL.Scheme)
	}
	if host := parsedURL.Hostname(); host != "" {
		normalizedParts = append(normalizedParts, categorizeHost(host))
	}
	if parsedURL.Port() != "" {
		normalizedParts = append(normalizedParts, "port-"+parsedURL.Port())
	}
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		normalizedParts = append(normalizedParts, anonymizePath(parsedURL.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(normalizedParts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// categorizeHost keeps only the kind of host: localhost, private or public
// IP, or the TLD of a domain name
func categorizeHost(host string) string {
	if host == "localhost" {
		return "localhost"
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		switch {
		case addr.IsLoopback():
			return "localhost"
		case addr.IsPrivate() || addr.IsLinkLocalUnicast():
			return "private-ip"
		default:
			return "public-ip"
		}
	}

	if i := strings.LastIndexByte(host, '.'); i > 0 && i < len(host)-1 {
		return "domain-" + host[i+1:]
	}
	return "unknown-host"
}

func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	var segments []string
	for segment := range strings.SplitSeq(path, "/") {
		if segment == "" {
			continue
		}
		if isNumeric(segment) {
			segments = append(segments, "numeric")
			continue
		}
		hash := sha256.Sum256([]byte(segment))
		segments = append(segments, fmt.Sprintf("seg-%x", hash[:4]))
	}
	return strings.Join(segments, "/")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// scrubbedError reports a scrubbed message while unwrapping to the original
type scrubbedError struct {
	err error
	msg string
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

// WrapError returns err with ScrubMessage applied to its text. errors.Is
// and errors.As still see the original. A nil err stays nil.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &scrubbedError{err: err, msg: ScrubMessage(err.Error())}
}
