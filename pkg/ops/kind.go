package ops

import "strings"

// Kind is the closed set of operations the dispatcher accepts.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreate
	KindHistory
	KindFileHistory
	KindDiff
	KindShow
	KindRead
	KindBranch
	KindCheckout
	KindRevert
	KindCommit
	KindMerge
)

var kindNames = map[string]Kind{
	"init":         KindCreate,
	"create":       KindCreate,
	"history":      KindHistory,
	"log":          KindHistory,
	"file-history": KindFileHistory,
	"diff":         KindDiff,
	"show":         KindShow,
	"read":         KindRead,
	"branch":       KindBranch,
	"checkout":     KindCheckout,
	"switch":       KindCheckout,
	"revert":       KindRevert,
	"commit":       KindCommit,
	"push":         KindCommit,
	"merge":        KindMerge,
}

// ParseKind maps an operation name, or one of its aliases, to a Kind.
// Names are matched case-insensitively.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindNames[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindHistory:
		return "history"
	case KindFileHistory:
		return "file-history"
	case KindDiff:
		return "diff"
	case KindShow:
		return "show"
	case KindRead:
		return "read"
	case KindBranch:
		return "branch"
	case KindCheckout:
		return "checkout"
	case KindRevert:
		return "revert"
	case KindCommit:
		return "commit"
	case KindMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Mutating reports whether k can move a branch pointer or create objects.
func (k Kind) Mutating() bool {
	switch k {
	case KindCreate, KindBranch, KindCheckout, KindRevert, KindCommit, KindMerge:
		return true
	}
	return false
}
