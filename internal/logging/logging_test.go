package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestFromContextOr(t *testing.T) {
	t.Parallel()

	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	attached := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	if got := FromContextOr(context.Background(), fallback); got != fallback {
		t.Fatal("expected fallback without a context logger")
	}
	if got := FromContextOr(ContextWithLogger(context.Background(), attached), fallback); got != attached {
		t.Fatal("expected the context logger to win")
	}
	if got := FromContextOr(context.Background(), nil); got == nil {
		t.Fatal("expected slog.Default as last resort")
	}
}

func TestWithAddsAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	ctx = With(ctx, "user_id", "user-1")
	FromContext(ctx).Info("solved")

	if !strings.Contains(buf.String(), "user_id=user-1") {
		t.Fatalf("expected user_id attribute, got %s", buf.String())
	}

	bare := context.Background()
	if With(bare, "user_id", "user-1") != bare {
		t.Fatal("expected context without logger to be returned unchanged")
	}
}
