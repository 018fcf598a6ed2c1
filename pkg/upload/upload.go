// Package upload holds file content sent ahead of a commit. A session
// collects files under an opaque id and hands them to a commit exactly
// once when completed.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTTL      = 30 * time.Minute
	DefaultMaxBytes = 64 << 20
)

var (
	ErrSessionNotFound = errors.New("upload session not found")
	ErrSessionClosed   = errors.New("upload session closed")
	ErrTooLarge        = errors.New("upload session size limit exceeded")
	ErrPathRequired    = errors.New("upload path required")
)

// File is one uploaded file.
type File struct {
	Path string
	Data []byte
}

// Session is a snapshot of an upload session.
type Session struct {
	ID      string
	Created time.Time
	Expires time.Time
	Files   int
	Size    int64
}

// Options configures a Manager.
type Options struct {
	TTL      time.Duration
	MaxBytes int64
	Logger   *slog.Logger
	Now      func() time.Time
}

type state int

const (
	stateOpen state = iota
	stateCompleting
)

type session struct {
	id      string
	created time.Time
	files   map[string][]byte
	order   []string
	size    int64
	state   state
}

// Manager tracks open sessions. It is safe for concurrent use.
type Manager struct {
	ttl      time.Duration
	maxBytes int64
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager returns a Manager with defaults filled in.
func NewManager(opts Options) *Manager {
	m := &Manager{
		ttl:      opts.TTL,
		maxBytes: opts.MaxBytes,
		logger:   opts.Logger,
		now:      opts.Now,
		sessions: make(map[string]*session),
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	if m.maxBytes <= 0 {
		m.maxBytes = DefaultMaxBytes
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Manager) snapshot(s *session) Session {
	return Session{
		ID:      s.id,
		Created: s.created,
		Expires: s.created.Add(m.ttl),
		Files:   len(s.files),
		Size:    s.size,
	}
}

// Create opens a new session.
func (m *Manager) Create() Session {
	s := &session{
		id:      uuid.NewString(),
		created: m.now(),
		files:   make(map[string][]byte),
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	m.logger.Debug("upload session created", "session", s.id)
	return m.snapshot(s)
}

// lookup returns an open, unexpired session. Callers hold mu.
func (m *Manager) lookup(id string) (*session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.state == stateOpen && m.now().After(s.created.Add(m.ttl)) {
		delete(m.sessions, id)
		return nil, fmt.Errorf("%w: %s expired", ErrSessionNotFound, id)
	}
	if s.state != stateOpen {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, id)
	}
	return s, nil
}

// Get returns a snapshot of session id.
func (m *Manager) Get(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	return m.snapshot(s), nil
}

// Put stores data at path in session id, replacing any earlier upload of
// the same path.
func (m *Manager) Put(id, path string, data []byte) (Session, error) {
	path = strings.TrimPrefix(path, "/")
	if strings.TrimSpace(path) == "" {
		return Session{}, ErrPathRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	prev, replacing := s.files[path]
	size := s.size - int64(len(prev)) + int64(len(data))
	if size > m.maxBytes {
		return Session{}, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, size, m.maxBytes)
	}
	if !replacing {
		s.order = append(s.order, path)
	}
	s.files[path] = append([]byte(nil), data...)
	s.size = size
	return m.snapshot(s), nil
}

// Cancel discards session id.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(id); err != nil {
		return err
	}
	delete(m.sessions, id)
	m.logger.Debug("upload session cancelled", "session", id)
	return nil
}

// Complete hands the session's files, in upload order, to commit and
// closes the session whatever commit returns. A session completes at most
// once; concurrent Complete or Cancel calls fail with ErrSessionClosed.
func (m *Manager) Complete(ctx context.Context, id string, commit func(context.Context, []File) error) error {
	m.mu.Lock()
	s, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	s.state = stateCompleting
	files := make([]File, 0, len(s.order))
	for _, p := range s.order {
		files = append(files, File{Path: p, Data: s.files[p]})
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	}()
	if err := commit(ctx, files); err != nil {
		return err
	}
	m.logger.Debug("upload session completed", "session", id, "files", len(files))
	return nil
}

// Sweep drops expired open sessions and returns how many it removed.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.state == stateOpen && now.After(s.created.Add(m.ttl)) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps expired sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(max(m.ttl/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("upload sessions expired", "count", n)
			}
		}
	}
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
