// Package location tracks the current directory of a workspace and resolves
// names against it.
package location

import (
	"path"
	"strings"
	"sync"
)

// Root is the top of the remote hierarchy.
const Root = "/"

// Location holds the current directory. The zero value is not usable; call New.
type Location struct {
	mu      sync.RWMutex
	current string
}

// New returns a location at the root.
func New() *Location {
	return &Location{current: Root}
}

// Current returns the current directory.
func (l *Location) Current() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// ResolveChild turns a name into an absolute path. Names that already start
// with "/" are returned unchanged, so resolving twice is a no-op.
func (l *Location) ResolveChild(name string) string {
	if IsAbsolute(name) {
		return name
	}
	return Join(l.Current(), name)
}

// Navigate commits a new current directory. Callers only navigate after the
// server listed the path successfully.
func (l *Location) Navigate(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = Normalize(p)
}

// Reset moves back to the root.
func (l *Location) Reset() {
	l.Navigate(Root)
}

// IsAbsolute reports whether name is already a resolved path.
func IsAbsolute(name string) bool {
	return strings.HasPrefix(name, "/")
}

// Join builds a child path from a directory and a bare name.
func Join(dir, name string) string {
	if dir == Root {
		return Root + name
	}
	return dir + "/" + name
}

// Normalize returns p with a leading slash, no trailing slash (except the
// root) and no "." or ".." segments.
func Normalize(p string) string {
	return path.Clean(Root + strings.TrimLeft(p, "/"))
}

// Parent returns the directory containing p. The parent of the root is the root.
func Parent(p string) string {
	return path.Dir(Normalize(p))
}

// Base returns the final segment of p, or p itself when it has none.
func Base(p string) string {
	trimmed := strings.TrimRight(p, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i < len(trimmed)-1 {
		return trimmed[i+1:]
	}
	if trimmed == "" {
		return p
	}
	return trimmed
}
