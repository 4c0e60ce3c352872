package safety

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func Test_AuditLogger_WritesNDJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewAuditLogger(&buf)

	entries := []AuditEntry{
		{Timestamp: time.Now(), Action: "migrate:stop VM on source", VM: "vm-1", Result: "ok"},
		{Timestamp: time.Now(), Action: "migrate:replicate datasets to target", VM: "vm-1", Result: "error: exit 1"},
	}
	for _, e := range entries {
		if err := l.Log(e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for i, line := range lines {
		var decoded AuditEntry
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if decoded.Action != entries[i].Action {
			t.Errorf("line %d Action = %q, want %q", i, decoded.Action, entries[i].Action)
		}
		if decoded.VM != "vm-1" {
			t.Errorf("line %d VM = %q, want vm-1", i, decoded.VM)
		}
	}
}

func Test_AuditLogger_NilWriter(t *testing.T) {
	l := NewAuditLogger(nil)
	if l != nil {
		t.Fatal("NewAuditLogger(nil) should return nil")
	}
	if err := l.Log(AuditEntry{Action: "x"}); !errors.Is(err, ErrNilWriter) {
		t.Errorf("Log on nil logger = %v, want ErrNilWriter", err)
	}
}
