package ops

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/odvcencio/gotd/pkg/repo"
	"github.com/odvcencio/gotd/pkg/upload"
)

const (
	defaultSkip        = 0
	defaultTake        = 50
	maxHistoryTake     = 100
	maxFileHistoryTake = 50
)

// Descriptor is a decoded operation request. JSON keys match
// case-insensitively; the canonical form is PascalCase.
type Descriptor struct {
	Operation     string     `json:"Operation"`
	Repository    string     `json:"Repository"`
	Branch        string     `json:"Branch,omitempty"`
	TargetCommit  string     `json:"TargetCommit,omitempty"`
	FilePath      string     `json:"FilePath,omitempty"`
	CommitMessage string     `json:"CommitMessage,omitempty"`
	BranchName    string     `json:"BranchName,omitempty"`
	Files         []FileSpec `json:"Files,omitempty"`
	Author        Author     `json:"Author"`
	Pagination    string     `json:"Pagination,omitempty"`
}

// FileSpec is one file write or delete inside a commit descriptor.
type FileSpec struct {
	Path      string `json:"Path"`
	Content   string `json:"Content,omitempty"`
	Encoding  string `json:"Encoding,omitempty"`
	Operation string `json:"Operation,omitempty"`
}

// Author identifies who requested a mutating operation.
type Author struct {
	Name  string `json:"Name,omitempty"`
	Email string `json:"Email,omitempty"`
}

// Decode parses a descriptor. Unknown fields are ignored.
func Decode(data []byte) (*Descriptor, error) {
	var d Descriptor
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&d); err != nil {
		return nil, errorf(CodeBadRequest, "decode descriptor: %w", err)
	}
	return &d, nil
}

// page parses a "skip,take" string. Empty means the defaults; a take of
// zero means the default take; take is clamped to maxTake.
func page(s string, maxTake int) (skip, take int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultSkip, min(defaultTake, maxTake), nil
	}
	a, b, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, errorf(CodeInvalidParameters, "pagination %q: want \"skip,take\"", s)
	}
	skip, err = strconv.Atoi(strings.TrimSpace(a))
	if err != nil || skip < 0 {
		return 0, 0, errorf(CodeInvalidParameters, "pagination %q: bad skip", s)
	}
	take, err = strconv.Atoi(strings.TrimSpace(b))
	if err != nil || take < 0 {
		return 0, 0, errorf(CodeInvalidParameters, "pagination %q: bad take", s)
	}
	if take == 0 {
		take = defaultTake
	}
	return skip, min(take, maxTake), nil
}

// pagination returns the page requested by d. Older clients send
// the "skip,take" string in CommitMessage; Pagination wins when both are
// set.
func (d *Descriptor) pagination(maxTake int) (int, int, error) {
	s := d.Pagination
	if strings.TrimSpace(s) == "" {
		s = d.CommitMessage
	}
	return page(s, maxTake)
}

// changes validates the file list and converts it to repository changes.
func (d *Descriptor) changes() ([]repo.FileChange, error) {
	out := make([]repo.FileChange, 0, len(d.Files))
	seen := make(map[string]bool, len(d.Files))
	for i, f := range d.Files {
		p, err := repo.CleanPath(f.Path)
		if err != nil {
			return nil, errorf(CodeInvalidParameters, "files[%d]: %w", i, err)
		}
		if seen[p] {
			return nil, errorf(CodeInvalidParameters, "files[%d]: duplicate path %q", i, p)
		}
		seen[p] = true

		switch strings.ToLower(f.Operation) {
		case "", "add", "modify", "update":
		case "delete", "remove":
			out = append(out, repo.FileChange{Path: p, Delete: true})
			continue
		default:
			return nil, errorf(CodeInvalidParameters, "files[%d]: unknown operation %q", i, f.Operation)
		}

		var content []byte
		switch strings.ToLower(f.Encoding) {
		case "", "utf-8", "utf8", "text":
			content = []byte(f.Content)
		case "base64":
			content, err = base64.StdEncoding.DecodeString(f.Content)
			if err != nil {
				return nil, errorf(CodeInvalidParameters, "files[%d]: bad base64 content: %v", i, err)
			}
		default:
			return nil, errorf(CodeInvalidParameters, "files[%d]: unknown encoding %q", i, f.Encoding)
		}
		out = append(out, repo.FileChange{Path: p, Content: content})
	}
	return out, nil
}

// WithUploads returns a copy of d whose file list carries uploaded content.
// Descriptor entries with empty content take the upload for the same path;
// uploaded paths the descriptor does not name are appended in upload order.
func (d Descriptor) WithUploads(files []upload.File) Descriptor {
	byPath := make(map[string][]byte, len(files))
	for _, f := range files {
		byPath[f.Path] = f.Data
	}

	out := d
	out.Files = make([]FileSpec, 0, len(d.Files)+len(files))
	named := make(map[string]bool, len(d.Files))
	for _, f := range d.Files {
		named[f.Path] = true
		data, uploaded := byPath[f.Path]
		isDelete := strings.EqualFold(f.Operation, "delete") || strings.EqualFold(f.Operation, "remove")
		if uploaded && f.Content == "" && !isDelete {
			f.Content = base64.StdEncoding.EncodeToString(data)
			f.Encoding = "base64"
		}
		out.Files = append(out.Files, f)
	}
	for _, f := range files {
		if named[f.Path] {
			continue
		}
		out.Files = append(out.Files, FileSpec{
			Path:     f.Path,
			Content:  base64.StdEncoding.EncodeToString(f.Data),
			Encoding: "base64",
		})
	}
	return out
}

func (d *Descriptor) commitRequest(defaults Author, changes []repo.FileChange) repo.CommitRequest {
	a := d.Author
	if strings.TrimSpace(a.Name) == "" {
		a.Name = defaults.Name
	}
	if strings.TrimSpace(a.Email) == "" {
		a.Email = defaults.Email
	}
	return repo.CommitRequest{
		Message: d.CommitMessage,
		Author:  a.Name,
		Email:   a.Email,
		Files:   changes,
	}
}
