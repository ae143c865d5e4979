package logger

import "testing"

func TestRedactorMasksSecretsAndHashesIDs(t *testing.T) {
	r := &redactor{enabled: true, salt: "pepper"}
	out := r.kvs([]interface{}{
		"api_key", "sk-live-123",
		"project_user_id", "u-1",
		"prompt", "a lighthouse keeper's last night",
		"headers", map[string]interface{}{"Authorization": "Bearer abc"},
	})
	if len(out) != 8 {
		t.Fatalf("expected 8 entries, got %d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("api_key not redacted: %v", out[1])
	}
	hashed, _ := out[3].(string)
	if len(hashed) != len("hash:")+12 {
		t.Fatalf("user id not hashed: %q", hashed)
	}
	if out[5] != "a lighthouse keeper's last night" {
		t.Fatalf("prompt altered: %v", out[5])
	}
	headers, _ := out[7].(map[string]interface{})
	if headers["Authorization"] != "[REDACTED]" {
		t.Fatalf("nested authorization not redacted: %v", headers)
	}
}

func TestRedactorDisabledPassesThrough(t *testing.T) {
	r := &redactor{}
	in := []interface{}{"api_key", "sk-1"}
	out := r.kvs(in)
	if out[1] != "sk-1" {
		t.Fatalf("expected passthrough, got %v", out[1])
	}
}
