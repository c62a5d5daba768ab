package runlog

import "testing"

func TestSanitizeMapRedactsCredentials(t *testing.T) {
	in := map[string]any{
		"api_key": "sk-XYZ",
		"model":   "gpt-4-turbo",
	}
	out := sanitizeMap(in)

	if out["api_key"] != "[REDACTED]" {
		t.Fatalf("api_key = %v, want [REDACTED]", out["api_key"])
	}
	if out["model"] != "gpt-4-turbo" {
		t.Fatalf("model = %v, want verbatim", out["model"])
	}
	if in["api_key"] != "sk-XYZ" {
		t.Fatalf("input map was mutated: %v", in["api_key"])
	}
}

func TestSanitizeMapIsCaseInsensitive(t *testing.T) {
	out := sanitizeMap(map[string]any{
		"Authorization": "Bearer abc",
		"API_KEY":       "sk-XYZ",
		"Password":      "hunter2",
	})
	for k, v := range out {
		if v != "[REDACTED]" {
			t.Fatalf("%s = %v, want [REDACTED]", k, v)
		}
	}
}

func TestSanitizeMapExactMatchOnly(t *testing.T) {
	out := sanitizeMap(map[string]any{
		"max_tokens":  4000,
		"token_count": 123,
		"token":       "abc",
	})
	if out["max_tokens"] != 4000 {
		t.Fatalf("max_tokens = %v, want verbatim", out["max_tokens"])
	}
	if out["token_count"] != 123 {
		t.Fatalf("token_count = %v, want verbatim", out["token_count"])
	}
	if out["token"] != "[REDACTED]" {
		t.Fatalf("token = %v, want [REDACTED]", out["token"])
	}
}

func TestSanitizeMapRecurses(t *testing.T) {
	out := sanitizeMap(map[string]any{
		"headers": map[string]any{"authorization": "Bearer abc", "accept": "json"},
		"items": []any{
			map[string]any{"secret": "s1", "name": "first"},
			"plain",
		},
	})

	headers := out["headers"].(map[string]any)
	if headers["authorization"] != "[REDACTED]" {
		t.Fatalf("nested authorization = %v", headers["authorization"])
	}
	if headers["accept"] != "json" {
		t.Fatalf("nested accept = %v", headers["accept"])
	}

	items := out["items"].([]any)
	first := items[0].(map[string]any)
	if first["secret"] != "[REDACTED]" {
		t.Fatalf("secret inside slice = %v", first["secret"])
	}
	if first["name"] != "first" {
		t.Fatalf("name inside slice = %v", first["name"])
	}
	if items[1] != "plain" {
		t.Fatalf("scalar slice element changed: %v", items[1])
	}
}

func TestSanitizeMapNil(t *testing.T) {
	if out := sanitizeMap(nil); out != nil {
		t.Fatalf("sanitizeMap(nil) = %v, want nil", out)
	}
}
