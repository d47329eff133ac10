package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactEmail(t *testing.T) {
	tests := []struct{ in, want string }{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"garbage", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogRedactsTokensAndEmails(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Info("tracked", "token", "abcdefghijklmnop", "note", "sent to alice@corp.example")

	var entry map[string]string
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if entry["token"] != "abcdef***" {
		t.Errorf("token = %q", entry["token"])
	}
	if strings.Contains(entry["note"], "alice@") {
		t.Errorf("email leaked: %q", entry["note"])
	}
	if entry["level"] != "INFO" || entry["msg"] != "tracked" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	With("component", "dispatcher").Warn("paused", "campaign_id", "c1")
	out := buf.String()
	if !strings.Contains(out, `"component":"dispatcher"`) || !strings.Contains(out, `"campaign_id":"c1"`) {
		t.Errorf("missing fields: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != DEBUG || ParseLevel("warn") != WARN || ParseLevel("bogus") != INFO {
		t.Error("ParseLevel mapping wrong")
	}
}
