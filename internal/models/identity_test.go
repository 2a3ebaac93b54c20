package models

import (
	"encoding/json"
	"testing"
)

func TestIdentityRoundTrip(t *testing.T) {
	var id Identity
	for i := range id {
		id[i] = byte(i + 1)
	}

	parsed, err := ParseIdentity(id.String())
	if err != nil {
		t.Fatalf("ParseIdentity(%q): %v", id.String(), err)
	}
	if parsed != id {
		t.Errorf("round trip changed identity: %v != %v", parsed, id)
	}
}

func TestParseIdentityInvalid(t *testing.T) {
	tests := []string{
		"",
		"abc",                // too short
		"0OIl",               // invalid base58 characters
		"111111111111111111", // decodes to wrong length
	}
	for _, s := range tests {
		if _, err := ParseIdentity(s); err == nil {
			t.Errorf("ParseIdentity(%q) succeeded, want error", s)
		}
	}
}

func TestIdentityJSON(t *testing.T) {
	id := Identity{42, 1, 2, 3}

	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Identity
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != id {
		t.Errorf("json round trip changed identity")
	}

	if err := json.Unmarshal([]byte(`42`), &out); err == nil {
		t.Error("unmarshal of non-string succeeded, want error")
	}
	if err := json.Unmarshal([]byte(`"tooshort"`), &out); err == nil {
		t.Error("unmarshal of short string succeeded, want error")
	}
}

func TestIdentityIsZero(t *testing.T) {
	var zero Identity
	if !zero.IsZero() {
		t.Error("zero identity reported non-zero")
	}
	if (Identity{1}).IsZero() {
		t.Error("non-zero identity reported zero")
	}
}
