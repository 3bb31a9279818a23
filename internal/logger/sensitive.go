package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// SensitiveDataPatterns match secrets embedded in free-form text
var SensitiveDataPatterns = []*regexp.Regexp{
	// Bearer tokens and JWTs
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)(eyJ[a-zA-Z0-9_-]{5,}\.eyJ[a-zA-Z0-9_-]{5,})\.[a-zA-Z0-9_-]{5,}`),

	// key=value style credentials, including api_key query parameters
	regexp.MustCompile(`(?i)((api[_-]?key|access[_-]?token|token|secret|passw(or)?d)[\s:=]+)([^;,&\s]{5,})`),
}

// sensitiveSegments are whole key segments that mark a field as secret.
// "api_key" and "embedding.apikey" match, "keyword_boost" does not.
var sensitiveSegments = map[string]struct{}{
	"password": {}, "passwd": {}, "secret": {}, "credential": {}, "token": {},
	"key": {}, "apikey": {}, "authorization": {}, "cookie": {}, "dsn": {},
}

// RedactSensitiveData replaces secrets found in input with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range SensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "$1"+redactedValue)
	}
	return input
}

func isSensitiveKey(key string) bool {
	segments := strings.FieldsFunc(strings.ToLower(key), func(r rune) bool {
		return r == '_' || r == '.' || r == '-'
	})
	for _, s := range segments {
		if _, ok := sensitiveSegments[s]; ok {
			return true
		}
	}
	return false
}
