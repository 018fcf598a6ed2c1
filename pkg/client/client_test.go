package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/odvcencio/gotd/pkg/envelope"
	"github.com/odvcencio/gotd/pkg/ops"
	"github.com/odvcencio/gotd/pkg/registry"
	"github.com/odvcencio/gotd/pkg/server"
	"github.com/odvcencio/gotd/pkg/upload"
)

var ctx = context.Background()

func newBox(t *testing.T) *envelope.Box {
	t.Helper()
	key, err := envelope.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	box, err := envelope.New(key)
	if err != nil {
		t.Fatalf("envelope.New: %v", err)
	}
	return box
}

// startServer runs a gotd server backed by a memory registry.
func startServer(t *testing.T, box *envelope.Box) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(registry.Options{Logger: logger})
	srv := server.New(ops.New(reg, ops.Options{Logger: logger}), server.Options{
		Box:     box,
		Uploads: upload.NewManager(upload.Options{Logger: logger}),
		Logger:  logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func mustDo(t *testing.T, c *Client, desc *ops.Descriptor) *ops.Response {
	t.Helper()
	resp, err := c.Do(ctx, desc)
	if err != nil {
		t.Fatalf("Do %s: %v", desc.Operation, err)
	}
	if !resp.IsSuccessful {
		t.Fatalf("Do %s: %s: %s", desc.Operation, resp.ErrorCode, resp.ErrorMessage)
	}
	return resp
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8420", "://x"} {
		if _, err := New(raw, Options{}); err == nil {
			t.Errorf("New(%q): expected error", raw)
		}
	}
}

func TestDoSealedRoundTrip(t *testing.T) {
	box := newBox(t)
	ts := startServer(t, box)
	c, err := New(ts.URL+"/", Options{Box: box})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	created := mustDo(t, c, &ops.Descriptor{
		Operation:  "create",
		Repository: "demo",
		Files:      []ops.FileSpec{{Path: "README.md", Content: "hello"}},
	})
	read := mustDo(t, c, &ops.Descriptor{Operation: "read", Repository: "demo", FilePath: "README.md"})
	if read.Content != "hello" || read.CommitSha != created.CommitSha {
		t.Fatalf("read = %q at %s, want hello at %s", read.Content, read.CommitSha, created.CommitSha)
	}

	resp, err := c.Do(ctx, &ops.Descriptor{Operation: "history", Repository: "missing"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.IsSuccessful || resp.ErrorCode != ops.CodeRepositoryNotFound {
		t.Fatalf("history on missing repo = %+v", resp)
	}
}

func TestDoWithoutKeyIsRemoteError(t *testing.T) {
	ts := startServer(t, newBox(t))
	c, err := New(ts.URL, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Do(ctx, &ops.Descriptor{Operation: "history", Repository: "demo"})
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("Do err = %v, want *RemoteError", err)
	}
	if re.Status != http.StatusBadRequest || re.Code != ops.CodeBadRequest {
		t.Fatalf("RemoteError = %+v", re)
	}

	wrong, err := New(ts.URL, Options{Box: newBox(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = wrong.Do(ctx, &ops.Descriptor{Operation: "history", Repository: "demo"})
	if !errors.As(err, &re) || re.Code != ops.CodeDecryptionFailed {
		t.Fatalf("Do with wrong key err = %v", err)
	}
}

func TestUploadCommitsFiles(t *testing.T) {
	for _, compress := range []bool{false, true} {
		box := newBox(t)
		ts := startServer(t, box)
		c, err := New(ts.URL, Options{Box: box, CompressUploads: compress})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		mustDo(t, c, &ops.Descriptor{Operation: "create", Repository: "demo"})

		resp, err := c.Upload(ctx, &ops.Descriptor{
			Operation:     "commit",
			Repository:    "demo",
			CommitMessage: "upload",
		}, []upload.File{
			{Path: "docs/a b.md", Data: []byte("spaced name\n")},
			{Path: "bin/data", Data: []byte{0, 1, 2, 3}},
		})
		if err != nil {
			t.Fatalf("Upload (compress=%v): %v", compress, err)
		}
		if !resp.IsSuccessful {
			t.Fatalf("Upload (compress=%v): %s: %s", compress, resp.ErrorCode, resp.ErrorMessage)
		}
		if len(resp.FilesCommitted) != 2 {
			t.Fatalf("FilesCommitted = %v", resp.FilesCommitted)
		}

		read := mustDo(t, c, &ops.Descriptor{Operation: "read", Repository: "demo", FilePath: "docs/a b.md"})
		if read.Content != "spaced name\n" {
			t.Fatalf("read uploaded file = %q", read.Content)
		}
	}
}

func TestDoRetriesOnlyReads(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, err := New(ts.URL, Options{MaxAttempts: 3, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Do(ctx, &ops.Descriptor{Operation: "history", Repository: "demo"}); err == nil {
		t.Fatal("history against 503: expected error")
	}
	if got := calls.Swap(0); got != 3 {
		t.Fatalf("history attempts = %d, want 3", got)
	}

	if _, err := c.Do(ctx, &ops.Descriptor{Operation: "commit", Repository: "demo"}); err == nil {
		t.Fatal("commit against 503: expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("commit attempts = %d, want 1", got)
	}
}
