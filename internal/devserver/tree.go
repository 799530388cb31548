package devserver

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ahmad-cheema/file-verse/pkg/location"
	"github.com/ahmad-cheema/file-verse/pkg/protocol"
)

// Error is a failure kind sent back as the "error" member of a reply.
type Error string

func (e Error) Error() string { return string(e) }

const (
	errInvalidRequest   = Error(protocol.ErrKindInvalidRequest)
	errNotFound         = Error(protocol.ErrKindNotFound)
	errExists           = Error(protocol.ErrKindExists)
	errNotDirectory     = Error(protocol.ErrKindNotDirectory)
	errIsDirectory      = Error(protocol.ErrKindIsDirectory)
	errUserExists       = Error(protocol.ErrKindUserExists)
	errLoginFailed      = Error(protocol.ErrKindLoginFailed)
	errInvalidSession   = Error(protocol.ErrKindInvalidSession)
	errPermissionDenied = Error(protocol.ErrKindPermissionDenied)
	errUnknownOperation = Error(protocol.ErrKindUnknownOperation)
)

// node is one file or directory of the in-memory tree.
type node struct {
	Name     string
	Path     string
	IsDir    bool
	Content  string
	ModTime  time.Time
	Children []*node
}

func (n *node) child(name string) *node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// addChild inserts c keeping children sorted by name.
func (n *node) addChild(c *node) {
	i, _ := slices.BinarySearchFunc(n.Children, c.Name, func(e *node, name string) int {
		return strings.Compare(e.Name, name)
	})
	n.Children = slices.Insert(n.Children, i, c)
}

func (n *node) removeChild(name string) {
	for i, c := range n.Children {
		if c.Name == name {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return
		}
	}
}

// Store is the in-memory file tree served by the dev server.
type Store struct {
	mu   sync.RWMutex
	root *node
}

// NewStore creates a tree holding only the root directory.
func NewStore() *Store {
	return &Store{root: &node{Name: "/", Path: location.Root, IsDir: true, ModTime: time.Now()}}
}

// clean validates an absolute path and normalizes it.
func clean(p string) (string, error) {
	if !location.IsAbsolute(p) {
		return "", errInvalidRequest
	}
	return location.Normalize(p), nil
}

func segments(p string) []string {
	if p == location.Root {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// find walks to p. Callers hold mu.
func (s *Store) find(p string) (*node, error) {
	n := s.root
	for _, seg := range segments(p) {
		if !n.IsDir {
			return nil, errNotDirectory
		}
		if n = n.child(seg); n == nil {
			return nil, errNotFound
		}
	}
	return n, nil
}

// insert adds a node at p whose parent must be an existing directory.
func (s *Store) insert(p string, isDir bool, content string) error {
	p, err := clean(p)
	if err != nil {
		return err
	}
	if p == location.Root {
		return errExists
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.find(location.Parent(p))
	if err != nil {
		return err
	}
	if !parent.IsDir {
		return errNotDirectory
	}
	name := location.Base(p)
	if parent.child(name) != nil {
		return errExists
	}
	parent.addChild(&node{Name: name, Path: p, IsDir: isDir, Content: content, ModTime: time.Now()})
	parent.ModTime = time.Now()
	return nil
}

// Mkdir creates a directory.
func (s *Store) Mkdir(p string) error {
	return s.insert(p, true, "")
}

// CreateFile creates a file. Existing files are not overwritten.
func (s *Store) CreateFile(p, content string) error {
	return s.insert(p, false, content)
}

// ReadFile returns the content of a file.
func (s *Store) ReadFile(p string) (string, error) {
	p, err := clean(p)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.find(p)
	if err != nil {
		return "", err
	}
	if n.IsDir {
		return "", errIsDirectory
	}
	return n.Content, nil
}

// DeleteFile removes a file. Directories cannot be deleted.
func (s *Store) DeleteFile(p string) error {
	p, err := clean(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.find(p)
	if err != nil {
		return err
	}
	if n.IsDir {
		return errIsDirectory
	}
	parent, err := s.find(location.Parent(p))
	if err != nil {
		return err
	}
	parent.removeChild(n.Name)
	parent.ModTime = time.Now()
	return nil
}

// List returns the children of a directory as wire entries, sorted by name.
func (s *Store) List(p string) ([]protocol.WireEntry, error) {
	p, err := clean(p)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.find(p)
	if err != nil {
		return nil, err
	}
	if !n.IsDir {
		return nil, errNotDirectory
	}
	entries := make([]protocol.WireEntry, 0, len(n.Children))
	for _, c := range n.Children {
		typ := 0
		if c.IsDir {
			typ = protocol.EntryTypeDirectory
		}
		entries = append(entries, protocol.WireEntry{Name: c.Name, Type: typ})
	}
	return entries, nil
}

// Count returns the number of nodes including the root.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countNodes(s.root)
}

func countNodes(n *node) int {
	count := 1
	for _, c := range n.Children {
		count += countNodes(c)
	}
	return count
}
