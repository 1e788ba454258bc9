package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestSnippet(t *testing.T) {
	if got := Snippet("hello world", 5); got != "hello" {
		t.Fatalf("Snippet = %q", got)
	}
	if got := Snippet("hi", 5); got != "hi" {
		t.Fatalf("Snippet short = %q", got)
	}
}

func TestContextCarriesTraceAndUser(t *testing.T) {
	var buf bytes.Buffer
	orig := Log
	Log = New(&buf, "debug")
	defer func() { Log = orig }()

	ctx := WithUser(Context(context.Background()), "42")
	Ctx(ctx).Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["chat_user_id"] != "42" {
		t.Fatalf("chat_user_id = %v", entry["chat_user_id"])
	}
	if id, _ := entry["trace_id"].(string); id == "" {
		t.Fatal("trace_id missing")
	}
}

func TestCtxFallsBackToBase(t *testing.T) {
	if Ctx(context.Background()) != &Log {
		t.Fatal("expected base logger for bare context")
	}
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "loud")
	l.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at default level: %s", buf.String())
	}
}
