package ops

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gotd/pkg/object"
	"github.com/odvcencio/gotd/pkg/registry"
	"github.com/odvcencio/gotd/pkg/repo"
	"github.com/odvcencio/gotd/pkg/upload"
)

var ctx = context.Background()

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	reg := registry.New(registry.Options{
		Now:    func() time.Time { return time.Unix(1700000000, 0) },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return New(reg, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

// run decodes a JSON descriptor and dispatches it.
func run(t *testing.T, d *Dispatcher, js string) *Response {
	t.Helper()
	desc, err := Decode([]byte(js))
	require.NoError(t, err)
	return d.Dispatch(ctx, desc)
}

func ok(t *testing.T, resp *Response) *Response {
	t.Helper()
	require.Truef(t, resp.IsSuccessful, "%s: %s", resp.ErrorCode, resp.ErrorMessage)
	return resp
}

func commitJSON(repoName, branch, msg string, files map[string]string) string {
	type file struct{ Path, Content string }
	var fs []file
	for p, c := range files {
		fs = append(fs, file{p, c})
	}
	b, _ := json.Marshal(map[string]any{
		"Operation": "commit", "Repository": repoName, "Branch": branch,
		"CommitMessage": msg, "Files": fs,
		"Author": map[string]string{"name": "agent", "email": "agent@example.com"},
	})
	return string(b)
}

func TestDemoScenario(t *testing.T) {
	d := newDispatcher(t)

	created := ok(t, run(t, d, `{"Operation":"create","Repository":"demo","CommitMessage":"Add README",
		"Files":[{"Path":"README.md","Content":"v1"}]}`))
	c1 := created.CommitSha
	require.Len(t, c1, object.HashSize)
	require.Equal(t, "master", created.Branch)
	require.Equal(t, []string{"README.md"}, created.FilesCommitted)

	hist := ok(t, run(t, d, `{"Operation":"history","Repository":"demo","Branch":"master","CommitMessage":"0,10"}`))
	require.Equal(t, 1, hist.TotalCount)
	require.Len(t, hist.Commits, 1)
	require.Equal(t, "Add README", hist.Commits[0].MessageShort)
	require.Zero(t, hist.Commits[0].ParentCount)
	require.Equal(t, 0, hist.Skip)
	require.Equal(t, 10, hist.Take)

	second := ok(t, run(t, d, commitJSON("demo", "master", "Update README", map[string]string{"README.md": "v2"})))
	require.Equal(t, c1, second.ParentSha)
	c2 := second.CommitSha

	diff := ok(t, run(t, d, fmt.Sprintf(`{"Operation":"diff","Repository":"demo","Branch":%q,"TargetCommit":%q}`, c1, c2)))
	require.Len(t, diff.DiffEntries, 1)
	e := diff.DiffEntries[0]
	require.Equal(t, "Modified", e.Status)
	require.Equal(t, "README.md", e.NewPath)
	require.Equal(t, 1, e.LinesAdded)
	require.Equal(t, 1, e.LinesDeleted)
	require.Equal(t, c1, diff.FromCommit)
	require.Equal(t, c2, diff.ToCommit)

	read := ok(t, run(t, d, fmt.Sprintf(`{"Operation":"read","Repository":"demo","FilePath":"README.md","TargetCommit":%q}`, c1)))
	require.Equal(t, "v1", read.Content)
	require.Equal(t, "utf-8", read.Encoding)
	require.Equal(t, c1, read.CommitSha)
}

func TestDispatchErrors(t *testing.T) {
	d := newDispatcher(t)
	ok(t, run(t, d, `{"Operation":"init","Repository":"demo"}`))

	tests := []struct {
		name string
		js   string
		want Code
	}{
		{"unknown operation", `{"Operation":"rebase","Repository":"demo"}`, CodeUnsupportedOperation},
		{"missing repository name", `{"Operation":"history"}`, CodeRepositoryNotFound},
		{"unknown repository", `{"Operation":"history","Repository":"nope"}`, CodeRepositoryNotFound},
		{"repository exists", `{"Operation":"create","Repository":"demo"}`, CodeRepositoryExists},
		{"bad repository name", `{"Operation":"create","Repository":".git"}`, CodeInvalidParameters},
		{"read without path", `{"Operation":"read","Repository":"demo"}`, CodeFilePathRequired},
		{"file-history without path", `{"Operation":"file-history","Repository":"demo"}`, CodeFilePathRequired},
		{"read missing file", `{"Operation":"read","Repository":"demo","FilePath":"nope.txt"}`, CodeFileNotFound},
		{"unknown branch", `{"Operation":"history","Repository":"demo","Branch":"ghost"}`, CodeBranchNotFound},
		{"unknown commit", `{"Operation":"show","Repository":"demo","TargetCommit":"deadbeefdeadbeef"}`, CodeCommitNotFound},
		{"revert without target", `{"Operation":"revert","Repository":"demo"}`, CodeCommitNotFound},
		{"bad pagination", `{"Operation":"history","Repository":"demo","CommitMessage":"ten"}`, CodeInvalidParameters},
		{"negative pagination", `{"Operation":"log","Repository":"demo","Pagination":"-1,5"}`, CodeInvalidParameters},
		{"bad file path", `{"Operation":"commit","Repository":"demo","Files":[{"Path":"../x"}]}`, CodeInvalidParameters},
		{"empty file path", `{"Operation":"commit","Repository":"demo","Files":[{"Path":""}]}`, CodeInvalidParameters},
		{"duplicate file", `{"Operation":"push","Repository":"demo","Files":[{"Path":"a"},{"Path":"a"}]}`, CodeInvalidParameters},
		{"bad encoding", `{"Operation":"commit","Repository":"demo","Files":[{"Path":"a","Encoding":"rot13"}]}`, CodeInvalidParameters},
		{"bad base64", `{"Operation":"commit","Repository":"demo","Files":[{"Path":"a","Content":"!!","Encoding":"base64"}]}`, CodeInvalidParameters},
		{"bad file operation", `{"Operation":"commit","Repository":"demo","Files":[{"Path":"a","Operation":"chmod"}]}`, CodeInvalidParameters},
		{"delete missing file", `{"Operation":"commit","Repository":"demo","Files":[{"Path":"a","Operation":"delete"}]}`, CodeFileNotFound},
		{"branch without name", `{"Operation":"branch","Repository":"demo"}`, CodeInvalidParameters},
		{"bad branch name", `{"Operation":"branch","Repository":"demo","BranchName":"a..b"}`, CodeInvalidParameters},
		{"checkout unknown", `{"Operation":"switch","Repository":"demo","BranchName":"ghost"}`, CodeBranchNotFound},
		{"merge without source", `{"Operation":"merge","Repository":"demo"}`, CodeInvalidParameters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := run(t, d, tt.js)
			require.False(t, resp.IsSuccessful)
			require.Equal(t, tt.want, resp.ErrorCode, resp.ErrorMessage)
			require.NotEmpty(t, resp.ErrorMessage)
			require.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestHistoryPaginationClamp(t *testing.T) {
	d := newDispatcher(t)
	ok(t, run(t, d, `{"Operation":"create","Repository":"demo"}`))
	for i := 0; i < 3; i++ {
		ok(t, run(t, d, commitJSON("demo", "", fmt.Sprintf("c%d", i), map[string]string{"f.txt": fmt.Sprint(i)})))
	}

	resp := ok(t, run(t, d, `{"Operation":"history","Repository":"demo","Pagination":"1,500"}`))
	require.Equal(t, maxHistoryTake, resp.Take)
	require.Equal(t, 4, resp.TotalCount)
	require.Len(t, resp.Commits, 3)
	require.Equal(t, "c1", resp.Commits[0].Message)

	resp = ok(t, run(t, d, `{"Operation":"history","Repository":"demo"}`))
	require.Equal(t, defaultTake, resp.Take)
	require.Equal(t, "c2", resp.Commits[0].Message)
	require.Equal(t, resp.Commits[0].Sha, resp.CommitSha)

	fh := ok(t, run(t, d, `{"Operation":"file-history","Repository":"demo","FilePath":"f.txt","Pagination":"0,80"}`))
	require.Equal(t, maxFileHistoryTake, fh.Take)
	require.Equal(t, 3, fh.TotalCount)
	require.Equal(t, "f.txt", fh.FilePath)
}

func TestBranchCheckoutMergeRevert(t *testing.T) {
	d := newDispatcher(t)
	ok(t, run(t, d, `{"Operation":"create","Repository":"demo","Files":[{"Path":"README.md","Content":"base\n"}]}`))
	base := ok(t, run(t, d, `{"Operation":"show","Repository":"demo"}`)).CommitSha

	br := ok(t, run(t, d, `{"Operation":"branch","Repository":"demo","BranchName":"feature","Branch":"master"}`))
	require.True(t, br.Created)
	require.False(t, br.Switched)
	require.Equal(t, "master", br.CurrentBranch)

	sw := ok(t, run(t, d, `{"Operation":"branch","Repository":"demo","BranchName":"feature"}`))
	require.False(t, sw.Created)
	require.True(t, sw.Switched)
	require.Equal(t, "feature", sw.CurrentBranch)

	// No Branch given: the commit lands on the current branch.
	f := ok(t, run(t, d, commitJSON("demo", "", "feature work", map[string]string{"feature.txt": "f"})))
	require.Equal(t, "feature", f.Branch)

	co := ok(t, run(t, d, `{"Operation":"checkout","Repository":"demo","BranchName":"master"}`))
	require.Equal(t, "master", co.CurrentBranch)

	ff := ok(t, run(t, d, `{"Operation":"merge","Repository":"demo","Branch":"master","BranchName":"feature"}`))
	require.True(t, ff.FastForward)
	require.Equal(t, f.CommitSha, ff.CommitSha)
	require.Equal(t, base, ff.MergeBase)

	hist := ok(t, run(t, d, `{"Operation":"history","Repository":"demo","Branch":"master"}`))
	require.Equal(t, 2, hist.TotalCount, "fast-forward must not create a commit")

	rv := ok(t, run(t, d, fmt.Sprintf(`{"Operation":"revert","Repository":"demo","Branch":"master","TargetCommit":%q}`, base[:12])))
	require.True(t, rv.Irreversible)
	require.NotEmpty(t, rv.Warning)
	require.Equal(t, f.CommitSha, rv.PreviousCommit)
	require.Equal(t, base, rv.CommitSha)

	after := ok(t, run(t, d, commitJSON("demo", "master", "after revert", map[string]string{"x.txt": "x"})))
	require.Equal(t, base, after.ParentSha)
}

func TestMergeConflictReportsPaths(t *testing.T) {
	d := newDispatcher(t)
	ok(t, run(t, d, `{"Operation":"create","Repository":"demo","Files":[{"Path":"README.md","Content":"base\n"}]}`))
	ok(t, run(t, d, `{"Operation":"branch","Repository":"demo","BranchName":"feature"}`))
	ours := ok(t, run(t, d, commitJSON("demo", "master", "ours", map[string]string{"README.md": "ours\n"})))
	ok(t, run(t, d, commitJSON("demo", "feature", "theirs", map[string]string{"README.md": "theirs\n"})))

	resp := run(t, d, `{"Operation":"merge","Repository":"demo","Branch":"master","BranchName":"feature","CommitMessage":"merge it"}`)
	require.False(t, resp.IsSuccessful)
	require.Equal(t, CodeMergeConflict, resp.ErrorCode)
	require.Equal(t, []string{"README.md"}, resp.Conflicts)
	require.Contains(t, resp.ErrorMessage, "README.md")

	show := ok(t, run(t, d, `{"Operation":"show","Repository":"demo","Branch":"master"}`))
	require.Equal(t, ours.CommitSha, show.CommitSha)
}

func TestReadBinaryAndShow(t *testing.T) {
	d := newDispatcher(t)
	data := []byte{0xff, 0x00, 0xfe}
	js := fmt.Sprintf(`{"Operation":"create","Repository":"demo","Files":[
		{"Path":"bin/blob.dat","Content":%q,"Encoding":"base64"},
		{"Path":"notes.txt","Content":"hello\n"}]}`, base64.StdEncoding.EncodeToString(data))
	ok(t, run(t, d, js))

	read := ok(t, run(t, d, `{"Operation":"read","Repository":"demo","Branch":"master","FilePath":"bin/blob.dat"}`))
	require.Equal(t, "base64", read.Encoding)
	require.Equal(t, 3, read.Size)
	decoded, err := base64.StdEncoding.DecodeString(read.Content)
	require.NoError(t, err)
	require.Equal(t, data, decoded)

	show := ok(t, run(t, d, `{"Operation":"show","Repository":"demo"}`))
	require.Equal(t, []string{"bin/blob.dat", "notes.txt"}, show.ModifiedFiles)
	require.Zero(t, show.Commit.ParentCount)
	for _, c := range show.Changes {
		if c.NewPath == "bin/blob.dat" {
			require.True(t, c.Binary)
		}
	}
}

func TestResponseJSONInlinesPayload(t *testing.T) {
	d := newDispatcher(t)
	ok(t, run(t, d, `{"Operation":"create","Repository":"demo"}`))
	resp := ok(t, run(t, d, `{"Operation":"history","Repository":"demo"}`))

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, true, m["isSuccessful"])
	require.Equal(t, "history", m["operation"])
	require.EqualValues(t, 1, m["totalCount"])
	require.Contains(t, m, "commits")
	require.NotContains(t, m, "HistoryPayload")
	require.NotContains(t, m, "diffEntries")
	require.NotContains(t, m, "errorCode")
}

func TestParseKindAliases(t *testing.T) {
	for name, want := range map[string]Kind{
		"init": KindCreate, "Create": KindCreate, "log": KindHistory, " HISTORY ": KindHistory,
		"file-history": KindFileHistory, "switch": KindCheckout, "push": KindCommit,
	} {
		got, found := ParseKind(name)
		require.True(t, found, name)
		require.Equal(t, want, got, name)
	}
	_, found := ParseKind("gc")
	require.False(t, found)
	require.True(t, KindMerge.Mutating())
	require.False(t, KindDiff.Mutating())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{fmt.Errorf("x: %w", repo.ErrBranchNotFound), CodeBranchNotFound},
		{fmt.Errorf("x: %w", repo.ErrCommitNotFound), CodeCommitNotFound},
		{fmt.Errorf("read: %w", &repo.PathError{Path: "a", Err: repo.ErrFileNotFound}), CodeFileNotFound},
		{repo.ErrFilePathRequired, CodeFilePathRequired},
		{&repo.MergeConflictError{Paths: []string{"a"}}, CodeMergeConflict},
		{repo.ErrAmbiguousRevision, CodeInvalidParameters},
		{fmt.Errorf("get: %w", registry.ErrRepositoryNotFound), CodeRepositoryNotFound},
		{fmt.Errorf("read: %w", object.ErrCorrupt), CodeInternalError},
		{context.DeadlineExceeded, CodeInternalError},
		{errorf(CodeUnsupportedOperation, "nope"), CodeUnsupportedOperation},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Classify(tt.err), tt.err.Error())
	}
	require.Equal(t, Code(""), Classify(nil))
}

func TestWithUploads(t *testing.T) {
	desc := Descriptor{
		Operation: "commit",
		Files: []FileSpec{
			{Path: "big.bin"},
			{Path: "inline.txt", Content: "inline"},
			{Path: "old.txt", Operation: "delete"},
		},
	}
	got := desc.WithUploads([]upload.File{
		{Path: "big.bin", Data: []byte("uploaded")},
		{Path: "inline.txt", Data: []byte("ignored")},
		{Path: "extra.txt", Data: []byte("extra")},
	})
	require.Len(t, desc.Files, 3, "original descriptor untouched")
	require.Len(t, got.Files, 4)

	changes, err := got.changes()
	require.NoError(t, err)
	byPath := map[string]repo.FileChange{}
	for _, c := range changes {
		byPath[c.Path] = c
	}
	require.Equal(t, "uploaded", string(byPath["big.bin"].Content))
	require.Equal(t, "inline", string(byPath["inline.txt"].Content))
	require.True(t, byPath["old.txt"].Delete)
	require.Equal(t, "extra", string(byPath["extra.txt"].Content))
}

func TestConcurrentCommitsThroughDispatcher(t *testing.T) {
	d := newDispatcher(t)
	ok(t, run(t, d, `{"Operation":"create","Repository":"demo"}`))

	const n = 10
	errs := make(chan *Response, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			desc, _ := Decode([]byte(commitJSON("demo", "master", fmt.Sprintf("c%d", i), map[string]string{fmt.Sprintf("f%d", i): "x"})))
			errs <- d.Dispatch(ctx, desc)
		}(i)
	}
	for i := 0; i < n; i++ {
		ok(t, <-errs)
	}
	hist := ok(t, run(t, d, `{"Operation":"history","Repository":"demo"}`))
	require.Equal(t, n+1, hist.TotalCount)
}
