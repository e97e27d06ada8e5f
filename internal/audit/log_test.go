package audit

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"feedline.org/internal/auth"
	"feedline.org/internal/ids"
)

func TestRecord(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := New(zap.New(core))

	userID := ids.New()
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithResult(ctx, auth.AuthResult{Authenticated: true, UserID: userID, Email: "a@b.com"})

	if err := log.Record(ctx, "post.deleted", map[string]any{"post_id": "p-1"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.LoggerName != "audit" {
		t.Fatalf("unexpected logger name: %q", entry.LoggerName)
	}
	fields := entry.ContextMap()
	if fields["event"] != "post.deleted" || fields["type"] != "audit" {
		t.Fatalf("unexpected entry: %v", fields)
	}
	if fields["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", fields["request_id"])
	}
	if fields["user_id"] != userID.String() {
		t.Fatalf("unexpected user id: %v", fields["user_id"])
	}
	extra, ok := fields["fields"].(map[string]any)
	if !ok || extra["post_id"] != "p-1" {
		t.Fatalf("fields missing or incorrect: %v", fields["fields"])
	}
}

func TestRecordAnonymous(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := New(zap.New(core))

	ctx := auth.ContextWithResult(context.Background(), auth.Anonymous)
	if err := log.Record(ctx, "user.signup", nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	fields := logs.All()[0].ContextMap()
	if _, ok := fields["user_id"]; ok {
		t.Fatalf("anonymous entry carries user id: %v", fields)
	}
	if _, ok := fields["request_id"]; ok {
		t.Fatalf("unexpected request id: %v", fields)
	}
}

func TestRecordRequiresEvent(t *testing.T) {
	if err := New(nil).Record(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
	if got := WithRequestID(context.Background(), " "); RequestIDFromContext(got) != "" {
		t.Fatal("blank request id stored")
	}
}
