// Package client talks to a gotd server over HTTP: sealed operation
// descriptors and upload sessions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odvcencio/gotd/pkg/envelope"
	"github.com/odvcencio/gotd/pkg/ops"
	"github.com/odvcencio/gotd/pkg/upload"
)

// Response limits per endpoint type.
const (
	responseLimitDefault   = 2 << 20
	responseLimitOperation = 256 << 20
)

// Options configures a Client.
type Options struct {
	// Box seals descriptors. Nil sends plain JSON descriptors, which the
	// server accepts only with server.allow_plaintext.
	Box         *envelope.Box
	Timeout     time.Duration // HTTP client timeout (default 60s)
	MaxAttempts int           // attempts for retry-safe requests (default 3)
	Backoff     time.Duration // first retry delay (default 1s)
	// CompressUploads sends uploaded files zstd-compressed.
	CompressUploads bool
}

// Client is an HTTP client for one gotd server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	box         *envelope.Box
	maxAttempts int
	backoff     time.Duration
	compress    bool
}

// RemoteError is a transport-level failure reported by the server: the
// request never reached the dispatcher.
type RemoteError struct {
	Status  int
	Code    ops.Code
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
}

// New returns a client for the server at baseURL, e.g. http://host:8420.
func New(baseURL string, opts Options) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server URL must include scheme and host")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: opts.Timeout},
		box:         opts.Box,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		compress:    opts.CompressUploads,
	}, nil
}

// Health checks that the server answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	_, err = c.doWithLimit(ctx, req, c.maxAttempts, responseLimitDefault)
	return err
}

// Do sends desc to /api/operations. Dispatcher failures come back as a
// response with IsSuccessful false and a nil error. Mutating operations
// are sent once; reads are retried.
func (c *Client) Do(ctx context.Context, desc *ops.Descriptor) (*ops.Response, error) {
	body, err := c.sealedBody(desc)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/operations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	attempts := c.maxAttempts
	if kind, ok := ops.ParseKind(desc.Operation); !ok || kind.Mutating() {
		attempts = 1
	}
	return c.operation(ctx, req, attempts)
}

// Upload commits files through an upload session. desc must be a commit
// descriptor; its Files entries with empty content take the uploaded data
// of the same path. The session is cancelled if any file fails to upload.
func (c *Client) Upload(ctx context.Context, desc *ops.Descriptor, files []upload.File) (*ops.Response, error) {
	body, err := c.sealedBody(desc)
	if err != nil {
		return nil, err
	}
	id, err := c.createSession(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := c.putFile(ctx, id, f); err != nil {
			if cerr := c.cancelSession(context.WithoutCancel(ctx), id); cerr != nil {
				err = errors.Join(err, cerr)
			}
			return nil, fmt.Errorf("upload %s: %w", f.Path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL(id)+"/complete", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.operation(ctx, req, 1)
}

func (c *Client) sealedBody(desc *ops.Descriptor) ([]byte, error) {
	plain, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	if c.box == nil {
		return plain, nil
	}
	token, err := c.box.SealString(plain)
	if err != nil {
		return nil, fmt.Errorf("seal descriptor: %w", err)
	}
	return json.Marshal(map[string]string{"encryptedAuth": token})
}

func (c *Client) operation(ctx context.Context, req *http.Request, attempts int) (*ops.Response, error) {
	body, err := c.doWithLimit(ctx, req, attempts, responseLimitOperation)
	if err != nil {
		return nil, err
	}
	var resp ops.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode operation response: %w", err)
	}
	return &resp, nil
}

type sessionReply struct {
	IsSuccessful bool   `json:"isSuccessful"`
	SessionID    string `json:"sessionId"`
}

func (c *Client) sessionURL(id string) string {
	return c.baseURL + "/api/upload/" + url.PathEscape(id)
}

func (c *Client) createSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload/session", nil)
	if err != nil {
		return "", err
	}
	body, err := c.doWithLimit(ctx, req, c.maxAttempts, responseLimitDefault)
	if err != nil {
		return "", err
	}
	var reply sessionReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if reply.SessionID == "" {
		return "", errors.New("server returned no session id")
	}
	return reply.SessionID, nil
}

// putFile uploads one file with PUT, which replaces on retry.
func (c *Client) putFile(ctx context.Context, id string, f upload.File) error {
	data := f.Data
	if c.compress {
		var err error
		if data, err = compressZstd(data); err != nil {
			return err
		}
	}
	segments := strings.Split(strings.TrimPrefix(f.Path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.sessionURL(id)+"/"+strings.Join(segments, "/"), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.compress {
		req.Header.Set("Content-Encoding", "zstd")
	}
	_, err = c.doWithLimit(ctx, req, c.maxAttempts, responseLimitDefault)
	return err
}

func (c *Client) cancelSession(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.sessionURL(id), nil)
	if err != nil {
		return err
	}
	_, err = c.doWithLimit(ctx, req, 1, responseLimitDefault)
	return err
}

func (c *Client) doWithLimit(ctx context.Context, req *http.Request, attempts int, maxBytes int64) ([]byte, error) {
	resp, err := retryDo(ctx, c.httpClient, req, attempts, c.backoff)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		if re := tryParseRemoteError(resp.StatusCode, body); re != nil {
			return nil, re
		}
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("request failed (%s %s): %s", req.Method, req.URL.Path, msg)
	}
	return body, nil
}

// tryParseRemoteError attempts to parse a JSON error response body.
func tryParseRemoteError(status int, body []byte) *RemoteError {
	var re struct {
		ErrorCode    ops.Code `json:"errorCode"`
		ErrorMessage string   `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &re); err != nil {
		return nil
	}
	if re.ErrorCode == "" && re.ErrorMessage == "" {
		return nil
	}
	return &RemoteError{Status: status, Code: re.ErrorCode, Message: re.ErrorMessage}
}
