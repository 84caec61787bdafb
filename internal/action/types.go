package action

import (
	"errors"
	"time"
)

// Kind discriminates the closed action vocabulary. The set is a fixed
// protocol: the parser recognizes exactly these markers and nothing else.
type Kind string

const (
	KindFileWrite  Kind = "FILE_WRITE"
	KindFileRead   Kind = "FILE_READ"
	KindFileDelete Kind = "FILE_DELETE"
	KindCommand    Kind = "COMMAND"
	KindGit        Kind = "GIT"
)

var markerKinds = map[string]Kind{
	string(KindFileWrite):  KindFileWrite,
	string(KindFileRead):   KindFileRead,
	string(KindFileDelete): KindFileDelete,
	string(KindCommand):    KindCommand,
	string(KindGit):        KindGit,
}

// KindFromMarker maps a marker name to its Kind.
func KindFromMarker(name string) (Kind, bool) {
	k, ok := markerKinds[name]
	return k, ok
}

// Block is one complete action parsed from a model reply. Immutable once
// emitted by the parser.
type Block struct {
	Kind      Kind
	Target    string // path, command line, or git subcommand plus args
	Body      string // FILE_WRITE content, empty for other kinds
	Dir       string // COMMAND working directory, root-relative
	TimeoutMs int    // COMMAND timeout override, 0 means executor default
}

// Error kinds carried on a Result. Empty means no classified error.
const (
	ErrorKindIO          = "io"
	ErrorKindPathEscape  = "path-escape"
	ErrorKindNotFound    = "not-found"
	ErrorKindTimeout     = "timeout"
	ErrorKindUnsupported = "unsupported"
)

var (
	// ErrNotFound reports a FileRead target that does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrUnsupportedGit reports a git subcommand outside the allow-list.
	ErrUnsupportedGit = errors.New("git subcommand not allowed")
)

// Result is the executor's outcome for one block. Failures are results,
// not errors: a failed block never aborts the rest of the turn.
type Result struct {
	OK        bool
	Output    string
	ErrorKind string
	ExitCode  int
	Duration  time.Duration
	Notes     []string // e.g. overwrite-within-turn observations
}
