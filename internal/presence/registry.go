// Package presence tracks which identities are online and on which
// connection.
//
// The registry keeps two maps that always agree with each other: identity to
// entry, and connection handle to identity. Every mutation updates both
// under one lock, so an identity has at most one live connection and a
// connection is bound to at most one identity.
package presence

import (
	"sync"

	"github.com/sakif/chat-relay/internal/protocol"
)

// Conn is the part of a live client connection the relay needs: a stable
// handle and a way to push events at it.
type Conn interface {
	ID() string
	Send(ev protocol.Event) error
}

// Entry describes one online identity.
type Entry struct {
	Identity         string
	DisplayName      string
	SignalingAddress string
	Conn             Conn
}

// Displaced reports what a Register call pushed out of the registry.
type Displaced struct {
	// PreviousConn is the connection identity was bound to before, when it
	// differs from the one just registered.
	PreviousConn Conn
	// PreviousIdentity is the identity the registering connection was bound
	// to before, when it differs from the one just registered.
	PreviousIdentity string
}

type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]Entry
	byConn     map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]Entry),
		byConn:     make(map[string]string),
	}
}

// Register binds identity to conn, replacing any earlier entry for the same
// identity. The entry is overwritten, so a signaling address from a previous
// session is dropped.
func (r *Registry) Register(identity string, conn Conn, displayName string) Displaced {
	r.mu.Lock()
	defer r.mu.Unlock()

	var d Displaced
	handle := conn.ID()

	if prevIdentity, ok := r.byConn[handle]; ok && prevIdentity != identity {
		delete(r.byIdentity, prevIdentity)
		d.PreviousIdentity = prevIdentity
	}
	if prev, ok := r.byIdentity[identity]; ok && prev.Conn.ID() != handle {
		delete(r.byConn, prev.Conn.ID())
		d.PreviousConn = prev.Conn
	}

	r.byIdentity[identity] = Entry{
		Identity:    identity,
		DisplayName: displayName,
		Conn:        conn,
	}
	r.byConn[handle] = identity
	return d
}

// UpdateSignalingAddress records address for an online identity. It reports
// false, changing nothing, when the identity is offline.
func (r *Registry) UpdateSignalingAddress(identity, address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byIdentity[identity]
	if !ok {
		return false
	}
	e.SignalingAddress = address
	r.byIdentity[identity] = e
	return true
}

func (r *Registry) Lookup(identity string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byIdentity[identity]
	return e, ok
}

// IdentityOf returns the identity bound to a connection handle.
func (r *Registry) IdentityOf(handle string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byConn[handle]
	return id, ok
}

// UnregisterByConnection removes whatever identity is bound to handle and
// returns it. ok is false when the connection was never bound or has already
// been displaced by a newer login.
func (r *Registry) UnregisterByConnection(handle string) (identity string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok = r.byConn[handle]
	if !ok {
		return "", false
	}
	delete(r.byConn, handle)
	delete(r.byIdentity, identity)
	return identity, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
