package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseMessageIDDetectsLocalSuffix(t *testing.T) {
	cases := []struct {
		value string
		local bool
	}{
		{"1700000000000-local", true},
		{"b3c9a1d4-5e6f-4a2b-8c7d-9e0f1a2b3c4d", false},
		{"plain", false},
		{"-local", true},
	}
	for _, tc := range cases {
		id := ParseMessageID(tc.value)
		if id.IsLocal() != tc.local {
			t.Fatalf("ParseMessageID(%q).IsLocal() = %v, want %v", tc.value, id.IsLocal(), tc.local)
		}
		if id.String() != tc.value {
			t.Fatalf("ParseMessageID(%q).String() = %q", tc.value, id.String())
		}
	}
}

func TestNewLocalMessageID(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	id := NewLocalMessageID(at)
	if !id.IsLocal() {
		t.Fatal("expected local id")
	}
	want := "1785585600000-local"
	if id.String() != want {
		t.Fatalf("expected %q, got %q", want, id.String())
	}
}

func TestMessageIDIsZero(t *testing.T) {
	var zero MessageID
	if !zero.IsZero() {
		t.Fatal("expected zero value to report zero")
	}
	if ParseMessageID("x").IsZero() {
		t.Fatal("expected non-empty id to report non-zero")
	}
}

func TestMessageIDJSONRoundTrip(t *testing.T) {
	original := Message{
		ID:        NewLocalMessageID(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)),
		ChannelID: "ops-admin",
		Body:      "hello",
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID.String() != original.ID.String() {
		t.Fatalf("id changed across round trip: %q vs %q", decoded.ID.String(), original.ID.String())
	}
	if !decoded.ID.IsLocal() {
		t.Fatal("expected local tag restored from suffix")
	}
}

func TestMessageSenderOmittedWhenEmpty(t *testing.T) {
	data, err := json.Marshal(Message{ID: ParseMessageID("m1"), ChannelID: "ops-admin", Body: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := raw["senderId"]; present {
		t.Fatal("expected empty sender to be omitted")
	}
}

func TestNormalizeBody(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  hello  ", "hello"},
		{"\n\t hi \t\n", "hi"},
		{"", ""},
		{"   ", ""},
		// NFD "é" (e + combining acute) normalises to the NFC composed form.
		{"café", "café"},
	}
	for _, tc := range cases {
		if got := NormalizeBody(tc.in); got != tc.want {
			t.Fatalf("NormalizeBody(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
