package object

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned when no object is stored under a hash.
	ErrNotFound = errors.New("object not found")
	// ErrCorrupt is returned when stored bytes do not decode to the object
	// their hash names.
	ErrCorrupt = errors.New("object corrupt")
	// ErrTypeMismatch is returned by typed reads when the stored object has
	// a different type.
	ErrTypeMismatch = errors.New("object type mismatch")
)

// Backend persists raw object envelopes keyed by hash. Implementations must
// be safe for concurrent use; Put must be idempotent.
type Backend interface {
	Has(h Hash) bool
	Get(h Hash) ([]byte, error)
	Put(h Hash, raw []byte) error
	// Destroy removes every object. Used when a repository is deleted.
	Destroy() error
}

// Store is a content-addressed object store. Objects are immutable once
// written, so concurrent readers need no coordination beyond the backend's.
type Store struct {
	backend Backend
}

// NewStore creates a Store over the given backend.
func NewStore(b Backend) *Store {
	return &Store{backend: b}
}

// NewMemoryStore creates a Store backed by an in-memory arena.
func NewMemoryStore() *Store {
	return NewStore(NewMemoryBackend())
}

// Has reports whether the store contains an object with the given hash.
func (s *Store) Has(h Hash) bool {
	return s.backend.Has(h)
}

// Write stores an object and returns its content hash. The stored envelope
// is "type len\0content".
func (s *Store) Write(objType ObjectType, data []byte) (Hash, error) {
	h := HashObject(objType, data)

	// Fast path: already exists.
	if s.backend.Has(h) {
		return h, nil
	}

	envelope := fmt.Sprintf("%s %d\x00", objType, len(data))
	raw := make([]byte, 0, len(envelope)+len(data))
	raw = append(raw, envelope...)
	raw = append(raw, data...)

	if err := s.backend.Put(h, raw); err != nil {
		return "", fmt.Errorf("object write %s: %w", h.Short(), err)
	}
	return h, nil
}

// Read retrieves an object by hash, returning its type and raw content.
// The content is verified against h.
func (s *Store) Read(h Hash) (ObjectType, []byte, error) {
	raw, err := s.backend.Get(h)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: %w", h.Short(), err)
	}

	// Parse envelope: "type len\0content"
	nulIdx := bytes.IndexByte(raw, 0)
	if nulIdx < 0 {
		return "", nil, fmt.Errorf("object read %s: %w: no header terminator", h.Short(), ErrCorrupt)
	}
	header := string(raw[:nulIdx])
	content := raw[nulIdx+1:]

	typ, size, ok := strings.Cut(header, " ")
	if !ok {
		return "", nil, fmt.Errorf("object read %s: %w: invalid header %q", h.Short(), ErrCorrupt, header)
	}
	length, err := strconv.Atoi(size)
	if err != nil || length != len(content) {
		return "", nil, fmt.Errorf("object read %s: %w: length mismatch", h.Short(), ErrCorrupt)
	}
	objType := ObjectType(typ)
	if HashObject(objType, content) != h {
		return "", nil, fmt.Errorf("object read %s: %w: hash mismatch", h.Short(), ErrCorrupt)
	}
	return objType, content, nil
}

// Type returns the type of the object stored under h.
func (s *Store) Type(h Hash) (ObjectType, error) {
	objType, _, err := s.Read(h)
	return objType, err
}

// Destroy removes every object in the store.
func (s *Store) Destroy() error {
	return s.backend.Destroy()
}

// Close releases backend resources when the backend holds any.
func (s *Store) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Store) readTyped(h Hash, want ObjectType) ([]byte, error) {
	objType, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if objType != want {
		return nil, fmt.Errorf("object %s: %w: got %q, want %q", h.Short(), ErrTypeMismatch, objType, want)
	}
	return data, nil
}

// ---------------------------------------------------------------------------
// Typed convenience methods
// ---------------------------------------------------------------------------

// WriteBlob serializes and stores a Blob.
func (s *Store) WriteBlob(b *Blob) (Hash, error) {
	return s.Write(TypeBlob, MarshalBlob(b))
}

// ReadBlob reads and deserializes a Blob.
func (s *Store) ReadBlob(h Hash) (*Blob, error) {
	data, err := s.readTyped(h, TypeBlob)
	if err != nil {
		return nil, err
	}
	return UnmarshalBlob(data)
}

// WriteTree serializes and stores a TreeObj.
func (s *Store) WriteTree(tr *TreeObj) (Hash, error) {
	return s.Write(TypeTree, MarshalTree(tr))
}

// ReadTree reads and deserializes a TreeObj. The empty hash reads as the
// empty tree without touching the backend.
func (s *Store) ReadTree(h Hash) (*TreeObj, error) {
	if h == "" || h == EmptyTreeHash {
		return &TreeObj{}, nil
	}
	data, err := s.readTyped(h, TypeTree)
	if err != nil {
		return nil, err
	}
	tr, err := UnmarshalTree(data)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w: %v", h.Short(), ErrCorrupt, err)
	}
	return tr, nil
}

// WriteCommit serializes and stores a CommitObj.
func (s *Store) WriteCommit(c *CommitObj) (Hash, error) {
	return s.Write(TypeCommit, MarshalCommit(c))
}

// ReadCommit reads and deserializes a CommitObj.
func (s *Store) ReadCommit(h Hash) (*CommitObj, error) {
	data, err := s.readTyped(h, TypeCommit)
	if err != nil {
		return nil, err
	}
	c, err := UnmarshalCommit(data)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w: %v", h.Short(), ErrCorrupt, err)
	}
	return c, nil
}
