package realtime

import (
	"errors"
	"fmt"
	"strings"
)

// ScopeKind identifies the index a broadcast target lives in.
type ScopeKind string

const (
	ScopeWorkspace ScopeKind = "workspace"
	ScopeProject   ScopeKind = "project"
	ScopeUser      ScopeKind = "user"
)

// ErrInvalidScope is returned by ParseScope for malformed scope strings.
var ErrInvalidScope = errors.New("invalid scope")

// Scope is a broadcast target: one workspace, one project or one user.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// Workspace returns the scope for a workspace id.
func Workspace(id string) Scope { return Scope{Kind: ScopeWorkspace, ID: id} }

// Project returns the scope for a project id.
func Project(id string) Scope { return Scope{Kind: ScopeProject, ID: id} }

// User returns the scope for a user id.
func User(id string) Scope { return Scope{Kind: ScopeUser, ID: id} }

// String renders the scope as "<kind>:<id>".
func (s Scope) String() string {
	return string(s.Kind) + ":" + s.ID
}

// Valid reports whether the scope has a known kind and a non-empty id.
func (s Scope) Valid() bool {
	if s.ID == "" {
		return false
	}
	switch s.Kind {
	case ScopeWorkspace, ScopeProject, ScopeUser:
		return true
	}
	return false
}

// ParseScope parses "workspace:<id>", "project:<id>" or "user:<id>".
func ParseScope(raw string) (Scope, error) {
	kind, id, ok := strings.Cut(raw, ":")
	if !ok {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
	s := Scope{Kind: ScopeKind(kind), ID: id}
	if !s.Valid() {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
	return s, nil
}
