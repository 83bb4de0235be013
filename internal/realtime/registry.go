package realtime

import (
	"sort"
	"sync"
)

// Client is a live connection as seen by the registry and the hub.
type Client interface {
	ID() string
	UserID() string
	// Send queues an already-encoded frame. It must not block on the network.
	Send(data []byte) error
	// Close terminates the connection with a WebSocket close code.
	Close(code int, reason string)
}

type set map[string]struct{}

type entry struct {
	client     Client
	workspaces set
	projects   set
}

// Registry tracks live connections and what they are subscribed to.
//
// A single RWMutex guards every index, so readers never see a connection
// that is present in one index but already purged from another.
type Registry struct {
	mu          sync.RWMutex
	conns       map[string]*entry
	byUser      map[string]set
	byWorkspace map[string]set
	byProject   map[string]set
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:       make(map[string]*entry),
		byUser:      make(map[string]set),
		byWorkspace: make(map[string]set),
		byProject:   make(map[string]set),
	}
}

func addTo(index map[string]set, key, connID string) {
	members, ok := index[key]
	if !ok {
		members = make(set)
		index[key] = members
	}
	members[connID] = struct{}{}
}

func removeFrom(index map[string]set, key, connID string) {
	members, ok := index[key]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(index, key)
	}
}

// Register adds a connection under its owning user. Registering an id that
// is already present replaces the old entry and drops its subscriptions.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	r.purgeLocked(id)
	r.conns[id] = &entry{
		client:     c,
		workspaces: make(set),
		projects:   make(set),
	}
	addTo(r.byUser, c.UserID(), id)
}

// Deregister removes a connection from every index. It reports whether the
// connection was present; unknown ids are a no-op.
func (r *Registry) Deregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeLocked(connID)
}

func (r *Registry) purgeLocked(connID string) bool {
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	for ws := range e.workspaces {
		removeFrom(r.byWorkspace, ws, connID)
	}
	for p := range e.projects {
		removeFrom(r.byProject, p, connID)
	}
	removeFrom(r.byUser, e.client.UserID(), connID)
	delete(r.conns, connID)
	return true
}

// SubscribeWorkspace adds a workspace subscription. Unknown connections are
// ignored and false is returned.
func (r *Registry) SubscribeWorkspace(connID, workspaceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	e.workspaces[workspaceID] = struct{}{}
	addTo(r.byWorkspace, workspaceID, connID)
	return true
}

// UnsubscribeWorkspace removes a workspace subscription.
func (r *Registry) UnsubscribeWorkspace(connID, workspaceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	delete(e.workspaces, workspaceID)
	removeFrom(r.byWorkspace, workspaceID, connID)
	return true
}

// SubscribeProject adds a project subscription.
func (r *Registry) SubscribeProject(connID, projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	e.projects[projectID] = struct{}{}
	addTo(r.byProject, projectID, connID)
	return true
}

// UnsubscribeProject removes a project subscription.
func (r *Registry) UnsubscribeProject(connID, projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	delete(e.projects, projectID)
	removeFrom(r.byProject, projectID, connID)
	return true
}

func (r *Registry) indexFor(kind ScopeKind) map[string]set {
	switch kind {
	case ScopeWorkspace:
		return r.byWorkspace
	case ScopeProject:
		return r.byProject
	case ScopeUser:
		return r.byUser
	}
	return nil
}

// ConnectionsFor returns the sorted ids of connections reachable through a
// scope. The result is never nil.
func (r *Registry) ConnectionsFor(scope Scope) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.indexFor(scope.Kind)[scope.ID]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Subscribers returns a snapshot of the clients reachable through a scope.
func (r *Registry) Subscribers(scope Scope) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.indexFor(scope.Kind)[scope.ID]
	clients := make([]Client, 0, len(members))
	for id := range members {
		clients = append(clients, r.conns[id].client)
	}
	return clients
}

// Lookup returns the client registered under connID.
func (r *Registry) Lookup(connID string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return e.client, true
}

// Subscriptions returns the sorted workspace and project ids a connection is
// subscribed to.
func (r *Registry) Subscriptions(connID string) (workspaces, projects []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return nil, nil
	}
	for ws := range e.workspaces {
		workspaces = append(workspaces, ws)
	}
	for p := range e.projects {
		projects = append(projects, p)
	}
	sort.Strings(workspaces)
	sort.Strings(projects)
	return workspaces, projects
}

// All returns a snapshot of every registered client.
func (r *Registry) All() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]Client, 0, len(r.conns))
	for _, e := range r.conns {
		clients = append(clients, e.client)
	}
	return clients
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
