package ops

import (
	"encoding/base64"
	"time"

	"github.com/odvcencio/gotd/pkg/diff"
	"github.com/odvcencio/gotd/pkg/repo"
)

// revertWarning accompanies every successful revert.
const revertWarning = "revert moved the branch pointer; commits after the target are no longer listed on this branch and this cannot be undone except by another revert"

// Response is the uniform result envelope. Exactly one payload pointer is
// set on success; its fields are inlined into the JSON object.
type Response struct {
	IsSuccessful bool     `json:"isSuccessful"`
	ErrorCode    Code     `json:"errorCode,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	Conflicts    []string `json:"conflicts,omitempty"`
	Operation    string   `json:"operation,omitempty"`
	Repository   string   `json:"repository,omitempty"`
	Branch       string   `json:"branch,omitempty"`
	CommitSha    string   `json:"commitSha,omitempty"`
	Warning      string   `json:"warning,omitempty"`
	Irreversible bool     `json:"irreversible,omitempty"`
	RequestID    string   `json:"requestId,omitempty"`

	*CommitPayload
	*HistoryPayload
	*DiffPayload
	*ShowPayload
	*ReadPayload
	*BranchPayload
	*MergePayload
	*RevertPayload
}

// Failure builds a failed response for err.
func Failure(err error) *Response {
	resp := &Response{ErrorCode: Classify(err), ErrorMessage: err.Error()}
	if conflict := asConflict(err); conflict != nil {
		resp.Conflicts = conflict.Paths
	}
	return resp
}

// CommitPayload answers create and commit.
type CommitPayload struct {
	ParentSha      string   `json:"parentSha,omitempty"`
	FilesCommitted []string `json:"filesCommitted"`
	DefaultBranch  string   `json:"defaultBranch,omitempty"`
}

// HistoryPayload answers history and file-history.
type HistoryPayload struct {
	Commits    []CommitView `json:"commits"`
	TotalCount int          `json:"totalCount"`
	Skip       int          `json:"skip"`
	Take       int          `json:"take"`
	FilePath   string       `json:"filePath,omitempty"`
}

// DiffPayload answers diff.
type DiffPayload struct {
	DiffEntries  []DiffEntryView `json:"diffEntries"`
	FilesChanged int             `json:"filesChanged"`
	LinesAdded   int             `json:"linesAdded"`
	LinesDeleted int             `json:"linesDeleted"`
	FromCommit   string          `json:"fromCommit"`
	ToCommit     string          `json:"toCommit"`
}

// ShowPayload answers show.
type ShowPayload struct {
	Commit        CommitView      `json:"commit"`
	Changes       []DiffEntryView `json:"changes"`
	ModifiedFiles []string        `json:"modifiedFiles"`
}

// ReadPayload answers read. Content is text when the file is valid UTF-8
// and base64 otherwise.
type ReadPayload struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
	BlobSha  string `json:"blobSha"`
}

// BranchPayload answers branch and checkout.
type BranchPayload struct {
	BranchName    string `json:"branchName"`
	Created       bool   `json:"created"`
	Switched      bool   `json:"switched"`
	CurrentBranch string `json:"currentBranch"`
}

// MergePayload answers merge.
type MergePayload struct {
	SourceBranch string   `json:"sourceBranch"`
	MergeBase    string   `json:"mergeBase,omitempty"`
	FastForward  bool     `json:"fastForward"`
	UpToDate     bool     `json:"upToDate"`
	AutoMerged   []string `json:"autoMerged,omitempty"`
}

// RevertPayload answers revert.
type RevertPayload struct {
	PreviousCommit string `json:"previousCommit"`
}

// CommitView is the wire form of a commit.
type CommitView struct {
	Sha          string   `json:"sha"`
	Message      string   `json:"message"`
	MessageShort string   `json:"messageShort"`
	Author       string   `json:"author"`
	AuthorEmail  string   `json:"authorEmail"`
	Date         string   `json:"date"`
	ParentCount  int      `json:"parentCount"`
	ParentShas   []string `json:"parentShas"`
	TreeSha      string   `json:"treeSha"`
}

// DiffEntryView is the wire form of a diff entry.
type DiffEntryView struct {
	OldPath       string `json:"oldPath,omitempty"`
	NewPath       string `json:"newPath,omitempty"`
	Status        string `json:"status"`
	LinesAdded    int    `json:"linesAdded"`
	LinesDeleted  int    `json:"linesDeleted"`
	Patch         string `json:"patch"`
	OldObjectHash string `json:"oldObjectHash,omitempty"`
	NewObjectHash string `json:"newObjectHash,omitempty"`
	Similarity    int    `json:"similarity,omitempty"`
	Binary        bool   `json:"binary,omitempty"`
}

func commitView(c *repo.CommitInfo) CommitView {
	parents := make([]string, len(c.Parents))
	for i, p := range c.Parents {
		parents[i] = string(p)
	}
	return CommitView{
		Sha:          string(c.Hash),
		Message:      c.Message,
		MessageShort: c.MessageShort(),
		Author:       c.Author,
		AuthorEmail:  c.AuthorEmail,
		Date:         c.Timestamp.Format(time.RFC3339),
		ParentCount:  len(c.Parents),
		ParentShas:   parents,
		TreeSha:      string(c.TreeHash),
	}
}

func commitViews(cs []*repo.CommitInfo) []CommitView {
	out := make([]CommitView, len(cs))
	for i, c := range cs {
		out[i] = commitView(c)
	}
	return out
}

func diffViews(entries []diff.Entry) []DiffEntryView {
	out := make([]DiffEntryView, len(entries))
	for i, e := range entries {
		out[i] = DiffEntryView{
			OldPath:       e.OldPath,
			NewPath:       e.NewPath,
			Status:        e.Status.String(),
			LinesAdded:    e.LinesAdded,
			LinesDeleted:  e.LinesDeleted,
			Patch:         e.Patch,
			OldObjectHash: string(e.OldHash),
			NewObjectHash: string(e.NewHash),
			Similarity:    e.Similarity,
			Binary:        e.Binary,
		}
	}
	return out
}

func readPayload(fc *repo.FileContent) *ReadPayload {
	p := &ReadPayload{Path: fc.Path, Size: len(fc.Data), BlobSha: string(fc.Hash)}
	if fc.IsText() {
		p.Content, p.Encoding = string(fc.Data), "utf-8"
	} else {
		p.Content, p.Encoding = base64.StdEncoding.EncodeToString(fc.Data), "base64"
	}
	return p
}
