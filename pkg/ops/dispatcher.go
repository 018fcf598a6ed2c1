// Package ops decodes operation descriptors, validates them per operation
// kind, routes them to a repository and shapes the uniform response.
package ops

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/gotd/pkg/registry"
	"github.com/odvcencio/gotd/pkg/repo"
)

// Options configures a Dispatcher.
type Options struct {
	Logger *slog.Logger
	// DefaultAuthor fills in commits whose descriptor names no author.
	DefaultAuthor Author
}

// Dispatcher routes descriptors to repositories held by a registry. It is
// safe for concurrent use; repositories serialize their own writes.
type Dispatcher struct {
	reg           *registry.Registry
	logger        *slog.Logger
	defaultAuthor Author
}

// New returns a Dispatcher over reg.
func New(reg *registry.Registry, opts Options) *Dispatcher {
	d := &Dispatcher{reg: reg, logger: opts.Logger, defaultAuthor: opts.DefaultAuthor}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.defaultAuthor.Name == "" {
		d.defaultAuthor = Author{Name: "gotd", Email: "gotd@localhost"}
	}
	return d
}

// Dispatch executes desc and never returns nil. Failures are reported in
// the response, not as a Go error.
func (d *Dispatcher) Dispatch(ctx context.Context, desc *Descriptor) *Response {
	start := time.Now()
	reqID := uuid.NewString()

	kind, ok := ParseKind(desc.Operation)
	resp, err := d.route(ctx, kind, ok, desc)
	if err != nil {
		resp = Failure(err)
	}
	resp.IsSuccessful = err == nil
	resp.Operation = desc.Operation
	if ok {
		resp.Operation = kind.String()
	}
	resp.Repository = desc.Repository
	if resp.Branch == "" {
		resp.Branch = desc.Branch
	}
	resp.RequestID = reqID

	level := slog.LevelInfo
	switch {
	case err == nil:
	case resp.ErrorCode == CodeInternalError:
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("request_id", reqID),
		slog.String("kind", resp.Operation),
		slog.String("repository", desc.Repository),
		slog.Duration("duration", time.Since(start)),
	}
	if resp.Branch != "" {
		attrs = append(attrs, slog.String("branch", resp.Branch))
	}
	if err != nil {
		attrs = append(attrs, slog.String("code", string(resp.ErrorCode)), slog.String("err", err.Error()))
	}
	d.logger.LogAttrs(ctx, level, "operation", attrs...)
	return resp
}

func (d *Dispatcher) route(ctx context.Context, kind Kind, known bool, desc *Descriptor) (*Response, error) {
	if !known {
		return nil, errorf(CodeUnsupportedOperation, "unsupported operation %q", desc.Operation)
	}
	if strings.TrimSpace(desc.Repository) == "" {
		return nil, errorf(CodeRepositoryNotFound, "repository name required")
	}
	if kind == KindCreate {
		return d.create(ctx, desc)
	}

	r, err := d.reg.Get(desc.Repository)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindHistory:
		return d.history(r, desc)
	case KindFileHistory:
		return d.fileHistory(r, desc)
	case KindDiff:
		return d.diff(r, desc)
	case KindShow:
		return d.show(r, desc)
	case KindRead:
		return d.read(r, desc)
	case KindBranch:
		return d.branch(ctx, r, desc)
	case KindCheckout:
		return d.checkout(ctx, r, desc)
	case KindRevert:
		return d.revert(ctx, r, desc)
	case KindCommit:
		return d.commit(ctx, r, desc)
	case KindMerge:
		return d.merge(ctx, r, desc)
	case KindCreate, KindUnknown:
	}
	return nil, errorf(CodeUnsupportedOperation, "unsupported operation %q", desc.Operation)
}

// branchOrCurrent returns the branch a descriptor names, or the
// repository's current branch.
func branchOrCurrent(r *repo.Repo, desc *Descriptor) string {
	if b := strings.TrimSpace(desc.Branch); b != "" {
		return b
	}
	return r.CurrentBranch()
}

func (d *Dispatcher) create(ctx context.Context, desc *Descriptor) (*Response, error) {
	changes, err := desc.changes()
	if err != nil {
		return nil, err
	}
	req := desc.commitRequest(d.defaultAuthor, changes)
	if strings.TrimSpace(req.Message) == "" {
		req.Message = "Initial commit"
	}
	r, info, err := d.reg.Create(ctx, desc.Repository, strings.TrimSpace(desc.Branch), req)
	if err != nil {
		return nil, err
	}
	return &Response{
		Branch:    r.DefaultBranch(),
		CommitSha: string(info.Hash),
		CommitPayload: &CommitPayload{
			FilesCommitted: changedPaths(changes),
			DefaultBranch:  r.DefaultBranch(),
		},
	}, nil
}

func (d *Dispatcher) commit(ctx context.Context, r *repo.Repo, desc *Descriptor) (*Response, error) {
	changes, err := desc.changes()
	if err != nil {
		return nil, err
	}
	branch := branchOrCurrent(r, desc)
	info, err := r.CreateCommit(ctx, branch, desc.commitRequest(d.defaultAuthor, changes))
	if err != nil {
		return nil, err
	}
	payload := &CommitPayload{FilesCommitted: changedPaths(changes)}
	if len(info.Parents) > 0 {
		payload.ParentSha = string(info.Parents[0])
	}
	return &Response{Branch: branch, CommitSha: string(info.Hash), CommitPayload: payload}, nil
}

func changedPaths(changes []repo.FileChange) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Path
	}
	return out
}

func (d *Dispatcher) history(r *repo.Repo, desc *Descriptor) (*Response, error) {
	skip, take, err := desc.pagination(maxHistoryTake)
	if err != nil {
		return nil, err
	}
	branch := branchOrCurrent(r, desc)
	pg, err := r.History(branch, skip, take)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		Branch: branch,
		HistoryPayload: &HistoryPayload{
			Commits:    commitViews(pg.Commits),
			TotalCount: pg.Total,
			Skip:       skip,
			Take:       take,
		},
	}
	if len(pg.Commits) > 0 {
		resp.CommitSha = string(pg.Commits[0].Hash)
	}
	return resp, nil
}

func (d *Dispatcher) fileHistory(r *repo.Repo, desc *Descriptor) (*Response, error) {
	if strings.TrimSpace(desc.FilePath) == "" {
		return nil, errorf(CodeFilePathRequired, "file-history: FilePath required")
	}
	skip, take, err := page(desc.Pagination, maxFileHistoryTake)
	if err != nil {
		return nil, err
	}
	branch := branchOrCurrent(r, desc)
	pg, err := r.FileHistory(desc.FilePath, branch, skip, take)
	if err != nil {
		return nil, err
	}
	return &Response{
		Branch: branch,
		HistoryPayload: &HistoryPayload{
			Commits:    commitViews(pg.Commits),
			TotalCount: pg.Total,
			Skip:       skip,
			Take:       take,
			FilePath:   desc.FilePath,
		},
	}, nil
}

// diff compares Branch (the "from" revision, current tip when empty) with
// TargetCommit (current tip when empty).
func (d *Dispatcher) diff(r *repo.Repo, desc *Descriptor) (*Response, error) {
	res, err := r.Diff(desc.Branch, desc.TargetCommit)
	if err != nil {
		return nil, err
	}
	return &Response{
		Branch:    desc.Branch,
		CommitSha: string(res.To),
		DiffPayload: &DiffPayload{
			DiffEntries:  diffViews(res.Entries),
			FilesChanged: res.FilesChanged,
			LinesAdded:   res.LinesAdded,
			LinesDeleted: res.LinesDeleted,
			FromCommit:   string(res.From),
			ToCommit:     string(res.To),
		},
	}, nil
}

// revision returns TargetCommit when set, else the branch (or current
// branch) name.
func revision(r *repo.Repo, desc *Descriptor) string {
	if t := strings.TrimSpace(desc.TargetCommit); t != "" {
		return t
	}
	return branchOrCurrent(r, desc)
}

func (d *Dispatcher) show(r *repo.Repo, desc *Descriptor) (*Response, error) {
	res, err := r.Show(revision(r, desc))
	if err != nil {
		return nil, err
	}
	return &Response{
		Branch:    desc.Branch,
		CommitSha: string(res.Commit.Hash),
		ShowPayload: &ShowPayload{
			Commit:        commitView(res.Commit),
			Changes:       diffViews(res.Changes.Entries),
			ModifiedFiles: res.Changes.Paths(),
		},
	}, nil
}

func (d *Dispatcher) read(r *repo.Repo, desc *Descriptor) (*Response, error) {
	if strings.TrimSpace(desc.FilePath) == "" {
		return nil, errorf(CodeFilePathRequired, "read: FilePath required")
	}
	fc, err := r.ReadFile(revision(r, desc), desc.FilePath)
	if err != nil {
		return nil, err
	}
	return &Response{
		Branch:      desc.Branch,
		CommitSha:   string(fc.Commit),
		ReadPayload: readPayload(fc),
	}, nil
}

// branch creates BranchName from Branch (a branch or commit; the current
// tip when empty), or switches to BranchName when it already exists.
func (d *Dispatcher) branch(ctx context.Context, r *repo.Repo, desc *Descriptor) (*Response, error) {
	name := strings.TrimSpace(desc.BranchName)
	if name == "" {
		return nil, errorf(CodeInvalidParameters, "branch: BranchName required")
	}
	res, err := r.CreateOrSwitchBranch(ctx, name, strings.TrimSpace(desc.Branch))
	if err != nil {
		return nil, err
	}
	return branchResponse(res), nil
}

func (d *Dispatcher) checkout(ctx context.Context, r *repo.Repo, desc *Descriptor) (*Response, error) {
	name := strings.TrimSpace(desc.BranchName)
	if name == "" {
		name = strings.TrimSpace(desc.Branch)
	}
	if name == "" {
		return nil, errorf(CodeInvalidParameters, "checkout: BranchName required")
	}
	res, err := r.Checkout(ctx, name)
	if err != nil {
		return nil, err
	}
	return branchResponse(res), nil
}

func branchResponse(res *repo.BranchResult) *Response {
	return &Response{
		Branch:    res.Name,
		CommitSha: string(res.Commit.Hash),
		BranchPayload: &BranchPayload{
			BranchName:    res.Name,
			Created:       res.Created,
			Switched:      res.Switched,
			CurrentBranch: res.Current,
		},
	}
}

func (d *Dispatcher) revert(ctx context.Context, r *repo.Repo, desc *Descriptor) (*Response, error) {
	branch := branchOrCurrent(r, desc)
	res, err := r.Revert(ctx, branch, desc.TargetCommit)
	if err != nil {
		return nil, err
	}
	return &Response{
		Branch:        res.Branch,
		CommitSha:     string(res.Target.Hash),
		Warning:       revertWarning,
		Irreversible:  true,
		RevertPayload: &RevertPayload{PreviousCommit: string(res.Previous)},
	}, nil
}

// merge brings BranchName (the source) into Branch (the target, current
// branch when empty).
func (d *Dispatcher) merge(ctx context.Context, r *repo.Repo, desc *Descriptor) (*Response, error) {
	source := strings.TrimSpace(desc.BranchName)
	if source == "" {
		return nil, errorf(CodeInvalidParameters, "merge: BranchName (source) required")
	}
	req := desc.commitRequest(d.defaultAuthor, nil)
	res, err := r.Merge(ctx, repo.MergeRequest{
		Target:  branchOrCurrent(r, desc),
		Source:  source,
		Message: req.Message,
		Author:  req.Author,
		Email:   req.Email,
	})
	if err != nil {
		return nil, err
	}
	return &Response{
		Branch:    res.Target,
		CommitSha: string(res.Commit.Hash),
		MergePayload: &MergePayload{
			SourceBranch: res.Source,
			MergeBase:    string(res.Base),
			FastForward:  res.FastForward,
			UpToDate:     res.UpToDate,
			AutoMerged:   res.AutoMerged,
		},
	}, nil
}

func asConflict(err error) *repo.MergeConflictError {
	var conflict *repo.MergeConflictError
	if errors.As(err, &conflict) {
		return conflict
	}
	return nil
}
