package audit

import "strings"

const redacted = "[REDACTED]"

var sensitiveFragments = []string{
	"password", "passwd", "secret", "token", "apikey", "authorization",
	"privatekey", "totp", "credential", "cookie",
}

var sensitiveExact = map[string]bool{"pin": true, "mpin": true, "otp": true}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	k = strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
	if sensitiveExact[k] {
		return true
	}
	for _, frag := range sensitiveFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// Redact returns a copy of details with sensitive values replaced, at any
// depth.
func Redact(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if sensitive(k) {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return Redact(x)
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		return Redact(m)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = redactValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Redact(item)
		}
		return out
	}
	return v
}
