// Package catalog persists repository metadata in SQLite: the repository
// list, branch pointers, commit creation order and a reflog of every
// pointer move. Object content lives in the object store, not here.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/odvcencio/gotd/pkg/object"
	"github.com/odvcencio/gotd/pkg/repo"
)

const schemaVersion = 1

var (
	ErrRepositoryExists   = errors.New("repository already exists")
	ErrRepositoryNotFound = errors.New("repository not found")
	// ErrBranchCASMismatch means a branch no longer points where the
	// caller expected.
	ErrBranchCASMismatch = errors.New("branch compare-and-swap mismatch")
)

var schema = []string{
	`create table if not exists settings (name text not null primary key, value text not null)`,
	`create table if not exists repositories (
		name text not null primary key,
		default_branch text not null,
		current_branch text not null,
		created integer not null
	)`,
	`create table if not exists branches (
		repository text not null references repositories(name) on delete cascade,
		name text not null,
		hash text not null,
		updated integer not null,
		primary key (repository, name)
	)`,
	`create table if not exists commits (
		repository text not null references repositories(name) on delete cascade,
		hash text not null,
		seq integer not null,
		primary key (repository, hash)
	)`,
	`create index if not exists commits_seq on commits (repository, seq)`,
	`create table if not exists reflog (
		id integer primary key,
		repository text not null references repositories(name) on delete cascade,
		branch text not null,
		old_hash text not null default '',
		new_hash text not null,
		reason text not null default '',
		created integer not null
	)`,
	`create index if not exists reflog_branch on reflog (repository, branch, id)`,
}

// Options configures a Catalog.
type Options struct {
	Logger *slog.Logger
	// Now timestamps reflog entries. Defaults to time.Now.
	Now func() time.Time
}

// Catalog is a SQLite-backed repo.Journal plus the repository list.
type Catalog struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates the catalog database at path. The path ":memory:"
// gives a private in-memory catalog.
func Open(path string, opts Options) (*Catalog, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// One connection serializes writers and keeps ":memory:" a single
	// database.
	db.SetMaxOpenConns(1)

	c := &Catalog{db: db, logger: opts.Logger, now: opts.Now}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	if _, err := c.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("journal mode: %w", err)
	}
	for _, stmt := range schema {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	_, err := c.db.Exec("replace into settings (name, value) values ('schema', ?)", schemaVersion)
	return err
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

// RepositoryRecord is one row of the repository list.
type RepositoryRecord struct {
	Name          string `db:"name"`
	DefaultBranch string `db:"default_branch"`
	CurrentBranch string `db:"current_branch"`
	Created       int64  `db:"created"`
}

// CreatedAt returns the creation time in UTC.
func (r RepositoryRecord) CreatedAt() time.Time { return time.Unix(r.Created, 0).UTC() }

// CreateRepository registers name. The current branch starts as the
// default branch.
func (c *Catalog) CreateRepository(name, defaultBranch string) error {
	_, err := c.db.Exec(
		"insert into repositories (name, default_branch, current_branch, created) values (?, ?, ?, ?)",
		name, defaultBranch, defaultBranch, c.now().Unix())
	if isConstraint(err) {
		return fmt.Errorf("create %q: %w", name, ErrRepositoryExists)
	}
	if err != nil {
		return fmt.Errorf("create %q: %w", name, err)
	}
	return nil
}

// DeleteRepository removes name and every row that belongs to it.
func (c *Catalog) DeleteRepository(name string) error {
	tx, err := c.db.Beginx()
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	defer tx.Rollback()

	for _, table := range []string{"reflog", "commits", "branches"} {
		if _, err := tx.Exec("delete from "+table+" where repository = ?", name); err != nil {
			return fmt.Errorf("delete %q: %s: %w", name, table, err)
		}
	}
	res, err := tx.Exec("delete from repositories where name = ?", name)
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete %q: %w", name, ErrRepositoryNotFound)
	}
	return tx.Commit()
}

// Repositories lists every registered repository sorted by name.
func (c *Catalog) Repositories() ([]RepositoryRecord, error) {
	var out []RepositoryRecord
	err := c.db.Select(&out, "select name, default_branch, current_branch, created from repositories order by name")
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	return out, nil
}

// Repository returns the record for name.
func (c *Catalog) Repository(name string) (RepositoryRecord, error) {
	var rec RepositoryRecord
	err := c.db.Get(&rec, "select name, default_branch, current_branch, created from repositories where name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("repository %q: %w", name, ErrRepositoryNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("repository %q: %w", name, err)
	}
	return rec, nil
}

type branchRow struct {
	Name string `db:"name"`
	Hash string `db:"hash"`
}

type commitRow struct {
	Hash string `db:"hash"`
	Seq  uint64 `db:"seq"`
}

// State loads the branch table, current branch and commit sequence of
// name, ready for repo.Repo.Restore.
func (c *Catalog) State(name string) (repo.State, error) {
	rec, err := c.Repository(name)
	if err != nil {
		return repo.State{}, err
	}

	var branches []branchRow
	if err := c.db.Select(&branches, "select name, hash from branches where repository = ?", name); err != nil {
		return repo.State{}, fmt.Errorf("state %q: branches: %w", name, err)
	}
	var commits []commitRow
	if err := c.db.Select(&commits, "select hash, seq from commits where repository = ?", name); err != nil {
		return repo.State{}, fmt.Errorf("state %q: commits: %w", name, err)
	}

	st := repo.State{
		Branches: make(map[string]object.Hash, len(branches)),
		Current:  rec.CurrentBranch,
		Commits:  make(map[object.Hash]uint64, len(commits)),
	}
	for _, b := range branches {
		st.Branches[b.Name] = object.Hash(b.Hash)
	}
	for _, cm := range commits {
		st.Commits[object.Hash(cm.Hash)] = cm.Seq
	}
	return st, nil
}

// RecordCommit stores the creation sequence number of h. Recording the
// same commit twice keeps the first number.
func (c *Catalog) RecordCommit(repository string, h object.Hash, seq uint64) error {
	_, err := c.db.Exec(
		"insert or ignore into commits (repository, hash, seq) values (?, ?, ?)",
		repository, string(h), seq)
	if err != nil {
		return fmt.Errorf("record commit %s: %w", h.Short(), err)
	}
	return nil
}

// UpdateBranch moves branch from old to new and appends a reflog entry in
// one transaction. An empty old creates the branch. If the stored pointer
// is not old, nothing changes and ErrBranchCASMismatch is returned.
func (c *Catalog) UpdateBranch(repository, branch string, old, new object.Hash, reason string) error {
	now := c.now().Unix()
	tx, err := c.db.Beginx()
	if err != nil {
		return fmt.Errorf("update branch %q: %w", branch, err)
	}
	defer tx.Rollback()

	if old == "" {
		_, err = tx.Exec(
			"insert into branches (repository, name, hash, updated) values (?, ?, ?, ?)",
			repository, branch, string(new), now)
		if isConstraint(err) {
			return fmt.Errorf("update branch %q: %w (already exists)", branch, ErrBranchCASMismatch)
		}
		if err != nil {
			return fmt.Errorf("update branch %q: %w", branch, err)
		}
	} else {
		res, err := tx.Exec(
			"update branches set hash = ?, updated = ? where repository = ? and name = ? and hash = ?",
			string(new), now, repository, branch, string(old))
		if err != nil {
			return fmt.Errorf("update branch %q: %w", branch, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update branch %q: %w (expected %s)", branch, ErrBranchCASMismatch, old.Short())
		}
	}

	_, err = tx.Exec(
		"insert into reflog (repository, branch, old_hash, new_hash, reason, created) values (?, ?, ?, ?, ?, ?)",
		repository, branch, string(old), string(new), reason, now)
	if err != nil {
		return fmt.Errorf("update branch %q: reflog: %w", branch, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update branch %q: %w", branch, err)
	}
	return nil
}

// SetCurrentBranch records which branch a repository uses by default.
func (c *Catalog) SetCurrentBranch(repository, branch string) error {
	res, err := c.db.Exec("update repositories set current_branch = ? where name = ?", branch, repository)
	if err != nil {
		return fmt.Errorf("set current branch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set current branch: %w: %q", ErrRepositoryNotFound, repository)
	}
	return nil
}

// ReflogEntry is one recorded branch pointer move.
type ReflogEntry struct {
	ID         int64  `db:"id"`
	Repository string `db:"repository"`
	Branch     string `db:"branch"`
	Old        string `db:"old_hash"`
	New        string `db:"new_hash"`
	Reason     string `db:"reason"`
	Created    int64  `db:"created"`
}

// Reflog returns the most recent pointer moves for repository, newest
// first. An empty branch means every branch. limit <= 0 means no limit.
func (c *Catalog) Reflog(repository, branch string, limit int) ([]ReflogEntry, error) {
	query := "select id, repository, branch, old_hash, new_hash, reason, created from reflog where repository = ?"
	args := []any{repository}
	if branch != "" {
		query += " and branch = ?"
		args = append(args, branch)
	}
	query += " order by id desc"
	if limit > 0 {
		query += " limit ?"
		args = append(args, limit)
	}

	var out []ReflogEntry
	if err := c.db.Select(&out, query, args...); err != nil {
		return nil, fmt.Errorf("reflog %q: %w", repository, err)
	}
	return out, nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

var _ repo.Journal = (*Catalog)(nil)
