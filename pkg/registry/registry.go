// Package registry maps repository names to open repositories and owns
// their lifecycle: creation with a root commit, lookup, restore from the
// catalog at startup and administrative deletion.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/odvcencio/gotd/pkg/catalog"
	"github.com/odvcencio/gotd/pkg/diff"
	"github.com/odvcencio/gotd/pkg/object"
	"github.com/odvcencio/gotd/pkg/repo"
)

const maxNameLen = 100

var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrRepositoryExists   = errors.New("repository already exists")
	ErrInvalidName        = errors.New("invalid repository name")
)

// Options configures a Registry.
type Options struct {
	// DataDir holds one object directory per repository under repos/.
	// Empty means every repository lives in memory.
	DataDir string
	// Compress stores disk objects zstd-compressed.
	Compress bool
	// Catalog persists branch tables. Nil keeps them in memory only.
	Catalog   *catalog.Catalog
	Logger    *slog.Logger
	LineMerge bool
	Diff      diff.Options
	Now       func() time.Time
}

// Registry is safe for concurrent use. Its lock guards only the name map;
// repositories serialize their own writes.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	repos   map[string]*repo.Repo
	pending map[string]struct{}
}

// New returns an empty registry. Call Load to restore catalogued
// repositories.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		opts:    opts,
		repos:   make(map[string]*repo.Repo),
		pending: make(map[string]struct{}),
	}
}

// ValidateName checks a repository name: 1 to 100 characters from
// [A-Za-z0-9._-], not starting with a dot.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("%w %q: length must be 1..%d", ErrInvalidName, name, maxNameLen)
	}
	if name[0] == '.' {
		return fmt.Errorf("%w %q: leading dot", ErrInvalidName, name)
	}
	for _, c := range name {
		ok := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '.' || c == '_' || c == '-'
		if !ok {
			return fmt.Errorf("%w %q: character %q not allowed", ErrInvalidName, name, c)
		}
	}
	return nil
}

func (g *Registry) repoDir(name string) string {
	return filepath.Join(g.opts.DataDir, "repos", name)
}

func (g *Registry) openStore(name string) (*object.Store, error) {
	if g.opts.DataDir == "" {
		return object.NewMemoryStore(), nil
	}
	backend, err := object.NewDiskBackend(g.repoDir(name), object.DiskOptions{Compress: g.opts.Compress})
	if err != nil {
		return nil, err
	}
	return object.NewStore(backend), nil
}

func (g *Registry) newRepo(name, defaultBranch string, store *object.Store) *repo.Repo {
	opts := repo.Options{
		DefaultBranch: defaultBranch,
		Logger:        g.opts.Logger,
		Now:           g.opts.Now,
		LineMerge:     g.opts.LineMerge,
		Diff:          g.opts.Diff,
	}
	if g.opts.Catalog != nil {
		opts.Journal = g.opts.Catalog
	}
	return repo.New(name, store, opts)
}

// Load opens every repository recorded in the catalog. Without a catalog
// it does nothing.
func (g *Registry) Load() error {
	if g.opts.Catalog == nil {
		return nil
	}
	recs, err := g.opts.Catalog.Repositories()
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	for _, rec := range recs {
		store, err := g.openStore(rec.Name)
		if err != nil {
			return fmt.Errorf("load %q: %w", rec.Name, err)
		}
		r := g.newRepo(rec.Name, rec.DefaultBranch, store)
		st, err := g.opts.Catalog.State(rec.Name)
		if err != nil {
			store.Close()
			return fmt.Errorf("load %q: %w", rec.Name, err)
		}
		if err := r.Restore(st); err != nil {
			store.Close()
			return fmt.Errorf("load %q: %w", rec.Name, err)
		}
		g.mu.Lock()
		g.repos[rec.Name] = r
		g.mu.Unlock()
		g.opts.Logger.Info("repository loaded", "repository", rec.Name,
			"branches", len(st.Branches), "commits", len(st.Commits))
	}
	return nil
}

// Create registers a new repository and writes its root commit on
// defaultBranch (DefaultBranch when empty) from initial.Files.
func (g *Registry) Create(ctx context.Context, name, defaultBranch string, initial repo.CommitRequest) (*repo.Repo, *repo.CommitInfo, error) {
	if err := ValidateName(name); err != nil {
		return nil, nil, err
	}
	if defaultBranch == "" {
		defaultBranch = repo.DefaultBranch
	}
	if err := repo.ValidateBranchName(defaultBranch); err != nil {
		return nil, nil, fmt.Errorf("create %q: %w", name, err)
	}

	g.mu.Lock()
	_, exists := g.repos[name]
	_, reserved := g.pending[name]
	if exists || reserved {
		g.mu.Unlock()
		return nil, nil, fmt.Errorf("create %q: %w", name, ErrRepositoryExists)
	}
	g.pending[name] = struct{}{}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, name)
		g.mu.Unlock()
	}()

	if g.opts.Catalog != nil {
		if err := g.opts.Catalog.CreateRepository(name, defaultBranch); err != nil {
			if errors.Is(err, catalog.ErrRepositoryExists) {
				return nil, nil, fmt.Errorf("create %q: %w", name, ErrRepositoryExists)
			}
			return nil, nil, err
		}
	}

	store, err := g.openStore(name)
	if err != nil {
		g.rollbackCreate(name, nil)
		return nil, nil, fmt.Errorf("create %q: %w", name, err)
	}
	r := g.newRepo(name, defaultBranch, store)
	info, err := r.Init(ctx, initial)
	if err != nil {
		g.rollbackCreate(name, store)
		return nil, nil, err
	}

	g.mu.Lock()
	g.repos[name] = r
	g.mu.Unlock()
	g.opts.Logger.Info("repository created", "repository", name,
		"branch", defaultBranch, "root", info.Hash.Short())
	return r, info, nil
}

// rollbackCreate undoes a partially created repository.
func (g *Registry) rollbackCreate(name string, store *object.Store) {
	if store != nil {
		if err := store.Destroy(); err != nil {
			g.opts.Logger.Warn("rollback create: destroy objects", "repository", name, "err", err)
		}
		store.Close()
	}
	if g.opts.DataDir != "" {
		os.RemoveAll(g.repoDir(name))
	}
	if g.opts.Catalog != nil {
		if err := g.opts.Catalog.DeleteRepository(name); err != nil {
			g.opts.Logger.Warn("rollback create: catalog", "repository", name, "err", err)
		}
	}
}

// Get returns the repository registered under name.
func (g *Registry) Get(name string) (*repo.Repo, error) {
	g.mu.RLock()
	r, ok := g.repos[name]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRepositoryNotFound, name)
	}
	return r, nil
}

// Exists reports whether name is registered or being created.
func (g *Registry) Exists(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.repos[name]
	_, reserved := g.pending[name]
	return ok || reserved
}

// List returns the registered names in sorted order.
func (g *Registry) List() []string {
	g.mu.RLock()
	names := make([]string, 0, len(g.repos))
	for name := range g.repos {
		names = append(names, name)
	}
	g.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Delete unregisters name and removes its objects and catalog rows. It is
// an administrative path: operations already holding the repository may
// still finish against it.
func (g *Registry) Delete(name string) error {
	g.mu.Lock()
	r, ok := g.repos[name]
	if ok {
		delete(g.repos, name)
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("delete: %w: %q", ErrRepositoryNotFound, name)
	}

	var errs []error
	if err := r.Store.Destroy(); err != nil {
		errs = append(errs, fmt.Errorf("destroy objects: %w", err))
	}
	if err := r.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if g.opts.DataDir != "" {
		if err := os.RemoveAll(g.repoDir(name)); err != nil {
			errs = append(errs, err)
		}
	}
	if g.opts.Catalog != nil {
		if err := g.opts.Catalog.DeleteRepository(name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	g.opts.Logger.Warn("repository deleted", "repository", name)
	return nil
}

// Close closes every repository store. The registry is unusable afterwards.
func (g *Registry) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs []error
	for name, r := range g.repos {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	g.repos = make(map[string]*repo.Repo)
	return errors.Join(errs...)
}
