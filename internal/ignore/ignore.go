// Package ignore decides which paths stay out of the project index. It
// combines gitignore-style patterns (root, nested, and global files) with
// a fixed deny list of directories that are never worth scanning.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// denyDirs are skipped by name wherever they appear, before any pattern
// matching. Build output and package trees dominate file counts in real
// projects; descending into them would dwarf the useful scan work.
var denyDirs = map[string]bool{
	"node_modules":     true,
	"target":           true,
	"dist":             true,
	"build":            true,
	".git":             true,
	".svn":             true,
	".hg":              true,
	"venv":             true,
	".venv":            true,
	"env":              true,
	".env":             true,
	"__pycache__":      true,
	".pytest_cache":    true,
	".mypy_cache":      true,
	".tox":             true,
	"vendor":           true,
	"bower_components": true,
	".idea":            true,
	".vscode":          true,
	"coverage":         true,
	".coverage":        true,
	"htmlcov":          true,
	".gradle":          true,
	".cargo":           true,
}

// rule is a single gitignore pattern.
type rule struct {
	pattern  string
	negation bool // starts with !
	dirOnly  bool // ends with /
	anchored bool // contains / before the end
	baseDir  string
}

// Rules matches paths against the deny list and loaded gitignore patterns.
type Rules struct {
	workDir      string
	rules        []rule
	mu           sync.RWMutex
	loaded       bool
	resultCache  map[string]bool
	cacheOrder   []string
	maxCacheSize int
}

// New creates Rules for workDir. Backup copies the executor leaves behind
// are excluded up front so they never re-enter the model's context.
func New(workDir string) *Rules {
	r := &Rules{
		workDir:      workDir,
		resultCache:  make(map[string]bool),
		maxCacheSize: 1000,
	}
	r.addRule("*.backup")
	r.addRule("*.deleted")
	return r
}

// Load parses the root .gitignore, any nested ones, and the user's global
// ignore file. Missing files are fine; unreadable nested files are skipped.
func (r *Rules) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.rules[:0]
	for _, ru := range r.rules {
		if ru.baseDir == "" { // programmatic defaults survive reloads
			kept = append(kept, ru)
		}
	}
	r.rules = kept
	r.loaded = true
	r.resultCache = make(map[string]bool)
	r.cacheOrder = nil

	rootIgnore := filepath.Join(r.workDir, ".gitignore")
	if err := r.loadFile(rootIgnore, r.workDir); err != nil && !os.IsNotExist(err) {
		return err
	}

	if global := globalIgnorePath(); global != "" {
		_ = r.loadFile(global, r.workDir)
	}

	err := filepath.Walk(r.workDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() && denyDirs[info.Name()] {
			return filepath.SkipDir
		}
		if !info.IsDir() && info.Name() == ".gitignore" && path != rootIgnore {
			_ = r.loadFile(path, filepath.Dir(path))
		}
		return nil
	})
	return err
}

// Loaded reports whether Load has run.
func (r *Rules) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// AddPattern adds a gitignore-style pattern programmatically.
func (r *Rules) AddPattern(pat string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addRule(pat)
	r.resultCache = make(map[string]bool)
	r.cacheOrder = nil
}

func (r *Rules) addRule(line string) {
	if ru := parseLine(line, ""); ru != nil {
		r.rules = append(r.rules, *ru)
	}
}

// Matches reports whether path should be excluded. The caller supplies
// isDir because during a walk the entry type is already known.
func (r *Rules) Matches(path string, isDir bool) bool {
	rel := r.relativize(path)

	// Deny-listed directory names match anywhere along the path.
	segments := strings.Split(rel, "/")
	for i, seg := range segments {
		if !denyDirs[seg] {
			continue
		}
		if i < len(segments)-1 || isDir {
			return true
		}
	}

	r.mu.RLock()
	if cached, ok := r.resultCache[rel]; ok {
		r.mu.RUnlock()
		return cached
	}
	rules := r.rules
	workDir := r.workDir
	r.mu.RUnlock()

	// Last matching pattern wins, gitignore semantics.
	ignored := false
	for _, ru := range rules {
		if matchRule(ru, rel, isDir, workDir) {
			ignored = !ru.negation
		}
	}

	r.cacheResult(rel, ignored)
	return ignored
}

// IsIgnored is a convenience form of Matches that stats the path itself.
func (r *Rules) IsIgnored(path string) bool {
	info, err := os.Stat(path)
	isDir := err == nil && info.IsDir()
	return r.Matches(path, isDir)
}

// InvalidateCache clears cached match results.
func (r *Rules) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resultCache = make(map[string]bool)
	r.cacheOrder = nil
}

func (r *Rules) relativize(path string) string {
	rel := path
	if filepath.IsAbs(path) {
		if rp, err := filepath.Rel(r.workDir, path); err == nil {
			rel = rp
		}
	}
	return filepath.ToSlash(rel)
}

func (r *Rules) cacheResult(rel string, result bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.resultCache[rel]; ok {
		return
	}
	if len(r.resultCache) >= r.maxCacheSize && len(r.cacheOrder) > 0 {
		oldest := r.cacheOrder[0]
		delete(r.resultCache, oldest)
		r.cacheOrder = r.cacheOrder[1:]
	}
	r.resultCache[rel] = result
	r.cacheOrder = append(r.cacheOrder, rel)
}

func (r *Rules) loadFile(path, baseDir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if ru := parseLine(scanner.Text(), baseDir); ru != nil {
			r.rules = append(r.rules, *ru)
		}
	}
	return scanner.Err()
}

func parseLine(line, baseDir string) *rule {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	ru := &rule{baseDir: baseDir}

	if strings.HasPrefix(line, "!") {
		ru.negation = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		ru.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.Contains(line, "/") {
		ru.anchored = true
	}
	if strings.HasPrefix(line, "/") {
		ru.anchored = true
		line = line[1:]
	}

	ru.pattern = line
	return ru
}

func matchRule(ru rule, rel string, isDir bool, workDir string) bool {
	if ru.dirOnly && !isDir {
		// A directory-only pattern still covers files beneath a matching
		// directory.
		return coveredByDir(ru, rel, workDir)
	}

	pat := ru.pattern
	if ru.baseDir != "" && ru.baseDir != workDir {
		if baseRel, err := filepath.Rel(workDir, ru.baseDir); err == nil {
			pat = filepath.ToSlash(filepath.Join(baseRel, ru.pattern))
		}
	}

	if ru.anchored {
		return globMatch(pat, rel) || globMatch(pat+"/**", rel)
	}

	if globMatch("**/"+pat, rel) || globMatch("**/"+pat+"/**", rel) {
		return true
	}
	return globMatch(pat, filepath.ToSlash(filepath.Base(rel)))
}

// coveredByDir checks whether rel sits beneath a directory matching a
// dir-only pattern.
func coveredByDir(ru rule, rel string, workDir string) bool {
	pat := ru.pattern
	if ru.baseDir != "" && ru.baseDir != workDir {
		if baseRel, err := filepath.Rel(workDir, ru.baseDir); err == nil {
			pat = filepath.ToSlash(filepath.Join(baseRel, ru.pattern))
		}
	}
	if ru.anchored {
		return globMatch(pat+"/**", rel)
	}
	return globMatch("**/"+pat+"/**", rel)
}

func globMatch(pattern, path string) bool {
	matched, err := doublestar.Match(pattern, path)
	if err != nil {
		return false
	}
	return matched
}

// globalIgnorePath finds the user's global gitignore, if any.
func globalIgnorePath() string {
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		if home, err := os.UserHomeDir(); err == nil {
			xdg = filepath.Join(home, ".config")
		}
	}
	if xdg != "" {
		p := filepath.Join(xdg, "git", "ignore")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".gitignore_global")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
