package watcher

// Operation classifies what happened to a path.
type Operation int

const (
	OpModify Operation = iota
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Config holds file watcher settings.
type Config struct {
	Enabled    bool
	DebounceMs int
	MaxWatches int
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    false,
		DebounceMs: 500,
		MaxWatches: 1000,
	}
}

// ChangeHandler receives one debounced change. The path is root-relative
// with forward slashes, ready for cache invalidation.
type ChangeHandler func(rel string, op Operation)

// Stats is a point-in-time view of the watcher.
type Stats struct {
	Running     bool
	WatchedDirs int
	EventsSeen  int64
	Delivered   int64
}
