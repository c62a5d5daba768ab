package runlog

import (
	"strings"
)

const redactedValue = "[REDACTED]"

// deniedKeys are matched exactly (case-insensitive) so that keys like
// max_tokens survive while credentials never reach the audit trail.
var deniedKeys = map[string]struct{}{
	"api_key":       {},
	"apikey":        {},
	"api_secret":    {},
	"password":      {},
	"passwd":        {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"secret":        {},
	"client_secret": {},
	"authorization": {},
	"auth":          {},
	"bearer":        {},
	"credentials":   {},
}

// sanitizeMap returns a deep copy of in with denied keys redacted at every
// nesting level. The input map is never mutated.
func sanitizeMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if _, denied := deniedKeys[strings.ToLower(k)]; denied {
			out[k] = redactedValue
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return sanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}
