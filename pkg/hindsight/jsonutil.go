package hindsight

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// stripJSONFence removes a leading/trailing ```json ... ``` or ``` ... ```
// fence that LLM adapters commonly wrap structured output in, so the
// remainder parses as plain JSON.
func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && strings.TrimSpace(s[:idx]) != "" {
		// drop a leading language tag like "json"
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// lenientUnmarshal parses a fenced or bare JSON blob into v, returning false
// (not an error) when parsing fails so callers can fall back to an empty
// result rather than propagating a hard failure.
func lenientUnmarshal(raw string, v any) bool {
	cleaned := stripJSONFence(raw)
	if cleaned == "" {
		return false
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return false
	}
	return true
}

// canonicalJSON recursively sorts map keys so that {"a":1,"b":2} and
// {"b":2,"a":1} hash identically.
func canonicalJSON(v any) []byte {
	return []byte(canonicalize(v))
}

func canonicalize(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			b.WriteString(canonicalize(t[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalize(item))
		}
		b.WriteByte(']')
		return b.String()
	default:
		out, err := json.Marshal(t)
		if err != nil {
			return "null"
		}
		return string(out)
	}
}

// canonicalPayload normalizes a JSON-object payload so key ordering doesn't
// affect Enqueue's dedup hash; non-JSON payloads pass through unchanged.
func canonicalPayload(payload string) string {
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return payload
	}
	return string(canonicalJSON(v))
}

// stablePayloadKey hashes a canonicalized payload for async-op and routing
// dedup.
func stablePayloadKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// sanitizeText strips null bytes and unpaired UTF-16 surrogate code units
// before anything is written to storage.
func sanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == 0 {
			continue
		}
		if r >= 0xD800 && r <= 0xDFFF {
			// lone surrogate: Go strings are UTF-8 so an unpaired surrogate
			// can only arise from a prior lossy conversion; drop it.
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
