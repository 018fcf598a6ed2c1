package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gotd/pkg/envelope"
	"github.com/odvcencio/gotd/pkg/ops"
	"github.com/odvcencio/gotd/pkg/registry"
	"github.com/odvcencio/gotd/pkg/upload"
)

type fixture struct {
	srv     *Server
	box     *envelope.Box
	uploads *upload.Manager
}

func newFixture(t *testing.T, allowPlaintext bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key, err := envelope.GenerateKey()
	require.NoError(t, err)
	box, err := envelope.New(key)
	require.NoError(t, err)

	reg := registry.New(registry.Options{Logger: logger})
	uploads := upload.NewManager(upload.Options{Logger: logger})
	srv := New(ops.New(reg, ops.Options{Logger: logger}), Options{
		Box:            box,
		AllowPlaintext: allowPlaintext,
		Uploads:        uploads,
		Logger:         logger,
	})
	return &fixture{srv: srv, box: box, uploads: uploads}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

// sealed returns a request body carrying desc in an envelope.
func (f *fixture) sealed(t *testing.T, desc map[string]any) []byte {
	t.Helper()
	plain, err := json.Marshal(desc)
	require.NoError(t, err)
	token, err := f.box.SealString(plain)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]string{"encryptedAuth": token})
	require.NoError(t, err)
	return body
}

func (f *fixture) operation(t *testing.T, desc map[string]any) ops.Response {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/operations", f.sealed(t, desc))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp ops.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestSealedOperations(t *testing.T) {
	f := newFixture(t, false)

	created := f.operation(t, map[string]any{
		"Operation": "create", "Repository": "demo",
		"Files": []map[string]string{{"Path": "README.md", "Content": "v1"}},
	})
	require.True(t, created.IsSuccessful, created.ErrorMessage)
	require.Equal(t, "create", created.Operation)

	read := f.operation(t, map[string]any{"Operation": "read", "Repository": "demo", "FilePath": "README.md"})
	require.True(t, read.IsSuccessful, read.ErrorMessage)
	require.NotNil(t, read.ReadPayload)
	require.Equal(t, "v1", read.Content)
	require.Equal(t, created.CommitSha, read.CommitSha)
}

func TestDispatchFailureIsHTTP200(t *testing.T) {
	f := newFixture(t, false)
	resp := f.operation(t, map[string]any{"Operation": "history", "Repository": "missing"})
	require.False(t, resp.IsSuccessful)
	require.Equal(t, ops.CodeRepositoryNotFound, resp.ErrorCode)
}

func TestTransportFailures(t *testing.T) {
	f := newFixture(t, false)

	other, err := envelope.GenerateKey()
	require.NoError(t, err)
	otherBox, err := envelope.New(other)
	require.NoError(t, err)
	foreign, err := otherBox.SealString([]byte(`{"Operation":"history","Repository":"demo"}`))
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		want ops.Code
	}{
		{"not json", `{{`, ops.CodeBadRequest},
		{"plaintext not allowed", `{"Operation":"history","Repository":"demo"}`, ops.CodeBadRequest},
		{"not base64", `{"encryptedAuth":"!!!"}`, ops.CodeDecryptionFailed},
		{"wrong key", `{"encryptedAuth":"` + foreign + `"}`, ops.CodeDecryptionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/operations", []byte(tt.body))
			require.Equal(t, http.StatusBadRequest, w.Code)
			var resp ops.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.False(t, resp.IsSuccessful)
			require.Equal(t, tt.want, resp.ErrorCode)
		})
	}

	t.Run("sealed garbage descriptor", func(t *testing.T) {
		token, err := f.box.SealString([]byte("not a descriptor"))
		require.NoError(t, err)
		w := f.do(t, http.MethodPost, "/api/operations", []byte(`{"encryptedAuth":"`+token+`"}`))
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), string(ops.CodeBadRequest))
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestOperationBodyReadErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(ops.New(registry.New(registry.Options{Logger: logger}), ops.Options{Logger: logger}), Options{
		AllowPlaintext: true,
		MaxBodyBytes:   16,
		Logger:         logger,
	})

	t.Run("too large", func(t *testing.T) {
		body := bytes.Repeat([]byte("x"), 64)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/operations", bytes.NewReader(body)))
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		require.Contains(t, w.Body.String(), string(ops.CodeBadRequest))
	})

	t.Run("broken body", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/operations", failingReader{}))
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), string(ops.CodeBadRequest))
	})
}

func TestPlaintextAllowed(t *testing.T) {
	f := newFixture(t, true)
	w := f.do(t, http.MethodPost, "/api/operations", []byte(`{"Operation":"create","Repository":"plain"}`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"isSuccessful":true`)
}

func TestUploadSessionCommit(t *testing.T) {
	f := newFixture(t, false)
	require.True(t, f.operation(t, map[string]any{"Operation": "create", "Repository": "demo"}).IsSuccessful)

	w := f.do(t, http.MethodPost, "/api/upload/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sess := decodeSession(t, w)
	require.True(t, sess.IsSuccessful)
	require.NotEmpty(t, sess.SessionID)
	base := "/api/upload/" + sess.SessionID

	w = f.do(t, http.MethodPut, base+"/docs/guide.md", []byte("# Guide\n"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.do(t, http.MethodPost, base+"/data.bin", []byte{0, 1, 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, 2, decodeSession(t, w).Files)

	commit := f.do(t, http.MethodPost, base+"/complete", f.sealed(t, map[string]any{
		"Operation": "commit", "Repository": "demo", "Branch": "master",
		"CommitMessage": "Upload docs",
		"Files":         []map[string]string{{"Path": "docs/guide.md"}},
	}))
	require.Equal(t, http.StatusOK, commit.Code)
	var resp ops.Response
	require.NoError(t, json.Unmarshal(commit.Body.Bytes(), &resp))
	require.True(t, resp.IsSuccessful, resp.ErrorMessage)
	require.Equal(t, []string{"docs/guide.md", "data.bin"}, resp.FilesCommitted)
	require.Zero(t, f.uploads.Len())

	read := f.operation(t, map[string]any{"Operation": "read", "Repository": "demo", "FilePath": "docs/guide.md"})
	require.Equal(t, "# Guide\n", read.Content)

	again := f.do(t, http.MethodPost, base+"/complete", f.sealed(t, map[string]any{"Operation": "commit", "Repository": "demo"}))
	require.Equal(t, http.StatusNotFound, again.Code)
}

func TestUploadCompleteRejectsNonCommit(t *testing.T) {
	f := newFixture(t, false)
	sess := decodeSession(t, f.do(t, http.MethodPost, "/api/upload/session", nil))

	w := f.do(t, http.MethodPost, "/api/upload/"+sess.SessionID+"/complete",
		f.sealed(t, map[string]any{"Operation": "merge", "Repository": "demo"}))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), string(ops.CodeUnsupportedOperation))

	w = f.do(t, http.MethodPost, "/api/upload/"+sess.SessionID+"/complete", []byte(`{"encryptedAuth":"bogus"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, 1, f.uploads.Len(), "rejected completions leave the session open")
}

func TestUploadCompleteClosesOnCommitFailure(t *testing.T) {
	f := newFixture(t, false)
	sess := decodeSession(t, f.do(t, http.MethodPost, "/api/upload/session", nil))
	f.do(t, http.MethodPut, "/api/upload/"+sess.SessionID+"/a.txt", []byte("a"))

	w := f.do(t, http.MethodPost, "/api/upload/"+sess.SessionID+"/complete",
		f.sealed(t, map[string]any{"Operation": "commit", "Repository": "missing"}))
	require.Equal(t, http.StatusOK, w.Code)
	var resp ops.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, ops.CodeRepositoryNotFound, resp.ErrorCode)
	require.Zero(t, f.uploads.Len())
}

func TestUploadCancel(t *testing.T) {
	f := newFixture(t, false)
	sess := decodeSession(t, f.do(t, http.MethodPost, "/api/upload/session", nil))

	w := f.do(t, http.MethodDelete, "/api/upload/"+sess.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPut, "/api/upload/"+sess.SessionID+"/a.txt", []byte("a"))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.False(t, decodeSession(t, w).IsSuccessful)

	w = f.do(t, http.MethodDelete, "/api/upload/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	_, err = http.Get(url)
	require.Error(t, err)
}
