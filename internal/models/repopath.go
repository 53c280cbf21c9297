package models

import (
	"fmt"
	"strings"
)

// RepoPath is a "/"-separated path relative to the repository root. The root
// itself is the empty path.
type RepoPath string

// RootPath is the repository root.
const RootPath RepoPath = ""

// NewRepoPath validates s and returns it as a RepoPath.
func NewRepoPath(s string) (RepoPath, error) {
	if s == "" {
		return RootPath, nil
	}
	for _, c := range strings.Split(s, "/") {
		if c == "" || c == "." || c == ".." {
			return "", fmt.Errorf("invalid repo path %q", s)
		}
	}
	return RepoPath(s), nil
}

// IsRoot reports whether p is the repository root.
func (p RepoPath) IsRoot() bool { return p == RootPath }

// Components returns the path's components. The root has none.
func (p RepoPath) Components() []string {
	if p.IsRoot() {
		return nil
	}
	return strings.Split(string(p), "/")
}

// Split returns the parent directory and the last component. It returns
// false for the root.
func (p RepoPath) Split() (RepoPath, string, bool) {
	if p.IsRoot() {
		return "", "", false
	}
	i := strings.LastIndexByte(string(p), '/')
	if i < 0 {
		return RootPath, string(p), true
	}
	return p[:i], string(p[i+1:]), true
}

// Join appends a single component.
func (p RepoPath) Join(name string) RepoPath {
	if p.IsRoot() {
		return RepoPath(name)
	}
	return p + "/" + RepoPath(name)
}

// Ancestors returns every proper ancestor directory of p, root first.
func (p RepoPath) Ancestors() []RepoPath {
	comps := p.Components()
	if len(comps) == 0 {
		return nil
	}
	out := make([]RepoPath, 0, len(comps))
	dir := RootPath
	out = append(out, dir)
	for _, c := range comps[:len(comps)-1] {
		dir = dir.Join(c)
		out = append(out, dir)
	}
	return out
}

// Compare orders paths component by component, so "a/b" sorts before "a-b".
func (p RepoPath) Compare(o RepoPath) int {
	a, b := p.Components(), o.Components()
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func (p RepoPath) String() string { return string(p) }
