package hindsight

import "testing"

func TestStripJSONFence(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fencedWithLang", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fencedNoLang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespacePadded", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := stripJSONFence(c.in); got != c.want {
				t.Errorf("stripJSONFence(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestLenientUnmarshal(t *testing.T) {
	type payload struct {
		Answer string `json:"answer"`
	}

	t.Run("FencedValid", func(t *testing.T) {
		var p payload
		ok := lenientUnmarshal("```json\n{\"answer\":\"42\"}\n```", &p)
		if !ok {
			t.Fatal("expected lenientUnmarshal to succeed")
		}
		if p.Answer != "42" {
			t.Errorf("Answer = %q, want %q", p.Answer, "42")
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		var p payload
		if lenientUnmarshal("not json at all", &p) {
			t.Error("expected lenientUnmarshal to fail on non-JSON input")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		var p payload
		if lenientUnmarshal("", &p) {
			t.Error("expected lenientUnmarshal to fail on empty input")
		}
	})
}

func TestCanonicalPayload(t *testing.T) {
	a := canonicalPayload(`{"b":2,"a":1}`)
	b := canonicalPayload(`{"a":1,"b":2}`)
	if a != b {
		t.Errorf("canonicalPayload should be key-order independent: %q != %q", a, b)
	}

	// Non-JSON payloads pass through unchanged.
	if got := canonicalPayload("not json"); got != "not json" {
		t.Errorf("canonicalPayload(non-JSON) = %q, want passthrough", got)
	}
}

func TestStablePayloadKeyDeterministic(t *testing.T) {
	k1 := stablePayloadKey("bank-1", "retain", canonicalPayload(`{"x":1,"y":2}`))
	k2 := stablePayloadKey("bank-1", "retain", canonicalPayload(`{"y":2,"x":1}`))
	if k1 != k2 {
		t.Errorf("expected identical keys for reordered-but-equivalent payloads, got %q and %q", k1, k2)
	}

	k3 := stablePayloadKey("bank-2", "retain", canonicalPayload(`{"x":1,"y":2}`))
	if k1 == k3 {
		t.Error("expected different keys for different bank ids")
	}
}

func TestSanitizeText(t *testing.T) {
	in := "hello\x00world"
	want := "helloworld"
	if got := sanitizeText(in); got != want {
		t.Errorf("sanitizeText(%q) = %q, want %q", in, got, want)
	}

	if got := sanitizeText("plain text"); got != "plain text" {
		t.Errorf("sanitizeText should leave plain text untouched, got %q", got)
	}
}
