// Package models contains the data types shared by the workspace packages.
package models

import (
	"strings"
	"time"
)

// Kind distinguishes files from directories in a listing.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Entry is one record of a directory listing.
// Name is the server's literal value and may be an absolute path.
type Entry struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// DisplayName returns the final path segment of the entry name.
func (e Entry) DisplayName() string {
	name := strings.TrimSuffix(e.Name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	if name == "" {
		return e.Name
	}
	return name
}

// Session is the authenticated identity held by a client.
// Token and Username are either both set or both empty.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Valid returns true if the session carries a token.
func (s Session) Valid() bool {
	return s.Token != "" && s.Username != ""
}

// Document is the working copy of the file open in the editor.
type Document struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Listing is a directory snapshot returned by a listing call.
type Listing struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
}

// UserInfo describes an account as reported by the server.
type UserInfo struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}
