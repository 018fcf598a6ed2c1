package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"

	"github.com/odvcencio/gotd/pkg/ops"
	"github.com/odvcencio/gotd/pkg/upload"
)

// sessionResponse answers the upload session routes.
type sessionResponse struct {
	IsSuccessful bool     `json:"isSuccessful"`
	ErrorCode    ops.Code `json:"errorCode,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	SessionID    string   `json:"sessionId,omitempty"`
	Files        int      `json:"files"`
	Size         int64    `json:"size"`
	ExpiresAt    string   `json:"expiresAt,omitempty"`
}

func sessionOK(sess upload.Session) sessionResponse {
	return sessionResponse{
		IsSuccessful: true,
		SessionID:    sess.ID,
		Files:        sess.Files,
		Size:         sess.Size,
		ExpiresAt:    sess.Expires.UTC().Format(time.RFC3339),
	}
}

// uploadFailure maps an upload error to a status and body.
func uploadFailure(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, upload.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, upload.ErrSessionClosed):
		status = http.StatusConflict
	case errors.Is(err, upload.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrPathRequired):
		status = http.StatusBadRequest
	}
	code := ops.CodeBadRequest
	if status == http.StatusInternalServerError {
		code = ops.CodeInternalError
	}
	c.JSON(status, sessionResponse{ErrorCode: code, ErrorMessage: err.Error()})
}

func (s *Server) createSession(c *gin.Context) {
	c.JSON(http.StatusOK, sessionOK(s.uploads.Create()))
}

func (s *Server) uploadOrComplete(c *gin.Context) {
	if c.Param("path") == "/complete" {
		s.completeSession(c)
		return
	}
	s.putFile(c)
}

// putFile stores the request body at the wildcard path. Bodies sent with
// Content-Encoding: zstd are decompressed first.
func (s *Server) putFile(c *gin.Context) {
	var body io.Reader = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody)
	if strings.Contains(c.GetHeader("Content-Encoding"), "zstd") {
		dec, err := zstd.NewReader(body)
		if err != nil {
			uploadFailure(c, err)
			return
		}
		defer dec.Close()
		body = io.LimitReader(dec, s.maxBody+1)
	}
	data, err := io.ReadAll(body)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		uploadFailure(c, fmt.Errorf("%w: %v", upload.ErrTooLarge, err))
		return
	case err != nil:
		fail(c, http.StatusBadRequest, ops.CodeBadRequest, fmt.Errorf("read upload: %w", err))
		return
	case int64(len(data)) > s.maxBody:
		uploadFailure(c, fmt.Errorf("%w: decompressed body exceeds %d bytes", upload.ErrTooLarge, s.maxBody))
		return
	}
	sess, err := s.uploads.Put(c.Param("id"), c.Param("path"), data)
	if err != nil {
		uploadFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionOK(sess))
}

func (s *Server) cancelSession(c *gin.Context) {
	if err := s.uploads.Cancel(c.Param("id")); err != nil {
		uploadFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{IsSuccessful: true, SessionID: c.Param("id")})
}

// errCommitFailed tells Complete the dispatcher rejected the commit; the
// dispatcher response carries the detail.
var errCommitFailed = errors.New("commit failed")

// completeSession commits the session's files with the sealed commit
// descriptor in the body. The session is closed whether or not the commit
// succeeds; a rejected envelope leaves it open.
func (s *Server) completeSession(c *gin.Context) {
	desc, ok := s.descriptor(c)
	if !ok {
		return
	}
	if kind, known := ops.ParseKind(desc.Operation); !known || kind != ops.KindCommit {
		c.JSON(http.StatusOK, ops.Failure(&ops.Error{
			Code: ops.CodeUnsupportedOperation,
			Err:  fmt.Errorf("upload completion requires a commit descriptor, got %q", desc.Operation),
		}))
		return
	}

	var resp *ops.Response
	err := s.uploads.Complete(c.Request.Context(), c.Param("id"), func(ctx context.Context, files []upload.File) error {
		merged := desc.WithUploads(files)
		resp = s.disp.Dispatch(ctx, &merged)
		if !resp.IsSuccessful {
			return errCommitFailed
		}
		return nil
	})
	if resp != nil {
		c.JSON(http.StatusOK, resp)
		return
	}
	uploadFailure(c, err)
}
