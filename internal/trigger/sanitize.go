package trigger

import (
	"strings"
	"unicode"
)

// paramKind selects the sanitizer applied to a parameter value.
type paramKind int

const (
	kindText paramKind = iota
	kindEmail
	kindURL
	kindInt
)

// inferKind picks a sanitizer from the parameter's name. Directive
// authors name parameters descriptively (post_id, subject, url), so
// the name is the best available signal for the expected shape.
func inferKind(name string) paramKind {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "email") || strings.Contains(n, "mail"):
		return kindEmail
	case strings.Contains(n, "url") || strings.Contains(n, "link"):
		return kindURL
	case strings.Contains(n, "id") || strings.Contains(n, "quantity") ||
		strings.Contains(n, "count") || strings.Contains(n, "number"):
		return kindInt
	default:
		return kindText
	}
}

// sanitizeParams returns a new map with every value passed through the
// sanitizer inferred from its name. The input map is not modified.
func sanitizeParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for name, value := range params {
		switch inferKind(name) {
		case kindEmail:
			out[name] = sanitizeEmail(value)
		case kindURL:
			out[name] = sanitizeURL(value)
		case kindInt:
			out[name] = sanitizeInt(value)
		default:
			out[name] = sanitizeText(value)
		}
	}
	return out
}

// sanitizeEmail keeps only characters legal in a common email address.
func sanitizeEmail(v string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(v) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@' || r == '.' || r == '_' || r == '-' || r == '+':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sanitizeURL accepts only http/https URLs and strips control
// characters and whitespace. Anything else sanitizes to empty.
func sanitizeURL(v string) string {
	s := strings.TrimSpace(v)
	var b strings.Builder
	for _, r := range s {
		if r > unicode.MaxASCII || unicode.IsControl(r) || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()

	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return ""
	}
	return s
}

// sanitizeInt keeps only digits, yielding a non-negative integer
// string (possibly empty).
func sanitizeInt(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return ""
	}
	if trimmed := strings.TrimLeft(s, "0"); trimmed != "" {
		return trimmed
	}
	return "0"
}

// sanitizeText trims whitespace and removes control characters and
// angle brackets from free-form text.
func sanitizeText(v string) string {
	var b strings.Builder
	for _, r := range v {
		if unicode.IsControl(r) || r == '<' || r == '>' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// validateParams checks that every required parameter is present and
// non-empty. It returns the first missing name, or ok=true. Validation
// reports a tagged result rather than an error: a missing parameter is
// an expected failure the safety wrapper turns into a failure Result.
func validateParams(required []string, params map[string]string) (missing string, ok bool) {
	for _, name := range required {
		if strings.TrimSpace(params[name]) == "" {
			return name, false
		}
	}
	return "", true
}
