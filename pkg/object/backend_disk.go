package object

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// DiskOptions configures a DiskBackend.
type DiskOptions struct {
	// Compress stores envelopes as zstd frames. Uncompressed objects
	// written earlier remain readable.
	Compress bool
}

// DiskBackend stores envelopes under a 2-character fan-out directory
// layout: objects/ab/cdef0123...
type DiskBackend struct {
	root string
	opts DiskOptions
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewDiskBackend creates a backend rooted at the given directory. The
// objects/ subdirectory is created lazily on first write.
func NewDiskBackend(root string, opts DiskOptions) (*DiskBackend, error) {
	d := &DiskBackend{root: root, opts: opts}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("disk backend: zstd reader: %w", err)
	}
	d.dec = dec
	if opts.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("disk backend: zstd writer: %w", err)
		}
		d.enc = enc
	}
	return d, nil
}

// objectPath returns the filesystem path for a given hash.
func (d *DiskBackend) objectPath(h Hash) string {
	return filepath.Join(d.root, "objects", string(h[:2]), string(h[2:]))
}

func (d *DiskBackend) Has(h Hash) bool {
	if len(h) < 3 {
		return false
	}
	_, err := os.Stat(d.objectPath(h))
	return err == nil
}

func (d *DiskBackend) Get(h Hash) ([]byte, error) {
	if len(h) < 3 {
		return nil, ErrNotFound
	}
	raw, err := os.ReadFile(d.objectPath(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if bytes.HasPrefix(raw, zstdMagic) {
		out, err := d.dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		return out, nil
	}
	return raw, nil
}

// Put writes atomically: data goes to a temp file which is then renamed
// into place.
func (d *DiskBackend) Put(h Hash, raw []byte) error {
	if len(h) < 3 {
		return fmt.Errorf("disk backend: invalid hash %q", h)
	}
	dir := filepath.Join(d.root, "objects", string(h[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data := raw
	if d.enc != nil {
		data = d.enc.EncodeAll(raw, nil)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, d.objectPath(h)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (d *DiskBackend) Destroy() error {
	return os.RemoveAll(filepath.Join(d.root, "objects"))
}

// Close releases the zstd coders.
func (d *DiskBackend) Close() error {
	if d.enc != nil {
		d.enc.Close()
	}
	d.dec.Close()
	return nil
}
