// Package server exposes the dispatcher and upload sessions over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/odvcencio/gotd/pkg/envelope"
	"github.com/odvcencio/gotd/pkg/ops"
	"github.com/odvcencio/gotd/pkg/upload"
)

// DefaultMaxBodyBytes bounds a single operation request body.
const DefaultMaxBodyBytes = 128 << 20

const shutdownTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	// Box opens sealed descriptors. Nil rejects every sealed request.
	Box *envelope.Box
	// AllowPlaintext accepts a bare JSON descriptor as the request body.
	AllowPlaintext bool
	// Uploads holds upload sessions. Nil disables the upload routes.
	Uploads      *upload.Manager
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Server is the HTTP adapter in front of a Dispatcher.
type Server struct {
	disp           *ops.Dispatcher
	box            *envelope.Box
	allowPlaintext bool
	uploads        *upload.Manager
	maxBody        int64
	logger         *slog.Logger
	engine         *gin.Engine
}

// New builds the gin engine and its routes.
func New(disp *ops.Dispatcher, opts Options) *Server {
	s := &Server{
		disp:           disp,
		box:            opts.Box,
		allowPlaintext: opts.AllowPlaintext,
		uploads:        opts.Uploads,
		maxBody:        opts.MaxBodyBytes,
		logger:         opts.Logger,
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())
	r.GET("/healthz", s.health)

	api := r.Group("/api")
	api.POST("/operations", s.operations)
	if s.uploads != nil {
		api.POST("/upload/session", s.createSession)
		// POST .../complete finishes the session; any other path is a
		// file. PUT always stores a file, including one named "complete".
		api.POST("/upload/:id/*path", s.uploadOrComplete)
		api.PUT("/upload/:id/*path", s.putFile)
		api.DELETE("/upload/:id", s.cancelSession)
	}
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully, waiting for in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.LogAttrs(c.Request.Context(), slog.LevelDebug, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	h := gin.H{"status": "ok"}
	if s.uploads != nil {
		h["uploadSessions"] = s.uploads.Len()
	}
	c.JSON(http.StatusOK, h)
}

// sealedRequest is the body of every descriptor-carrying request.
type sealedRequest struct {
	EncryptedAuth string `json:"encryptedAuth"`
}

// fail writes a transport-level failure.
func fail(c *gin.Context, status int, code ops.Code, err error) {
	c.JSON(status, ops.Failure(&ops.Error{Code: code, Err: err}))
}

// descriptor reads and opens the request body. On failure it has already
// written the response.
func (s *Server) descriptor(c *gin.Context) (*ops.Descriptor, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		fail(c, status, ops.CodeBadRequest, fmt.Errorf("read body: %w", err))
		return nil, false
	}
	var req sealedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		fail(c, http.StatusBadRequest, ops.CodeBadRequest, fmt.Errorf("decode body: %w", err))
		return nil, false
	}

	plaintext := body
	switch {
	case req.EncryptedAuth != "":
		if s.box == nil {
			fail(c, http.StatusBadRequest, ops.CodeDecryptionFailed, errors.New("no envelope key configured"))
			return nil, false
		}
		plaintext, err = s.box.OpenString(req.EncryptedAuth)
		if err != nil {
			fail(c, http.StatusBadRequest, ops.CodeDecryptionFailed, err)
			return nil, false
		}
	case !s.allowPlaintext:
		fail(c, http.StatusBadRequest, ops.CodeBadRequest, errors.New("encryptedAuth required"))
		return nil, false
	}

	desc, err := ops.Decode(plaintext)
	if err != nil {
		fail(c, http.StatusBadRequest, ops.CodeBadRequest, err)
		return nil, false
	}
	return desc, true
}

func (s *Server) operations(c *gin.Context) {
	desc, ok := s.descriptor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.disp.Dispatch(c.Request.Context(), desc))
}
