// ABOUTME: Bidirectional subscription index between session ids and sockets.
// ABOUTME: Generic over the socket type so tests can use plain comparable keys.

package session

import "sync"

// Index is the bidirectional map between session ids and subscribed sockets.
// S is the socket handle type; any comparable type works.
type Index[S comparable] struct {
	mu        sync.RWMutex
	bySession map[string]map[S]bool
	bySocket  map[S]map[string]bool
}

// NewIndex creates an empty subscription index.
func NewIndex[S comparable]() *Index[S] {
	return &Index[S]{
		bySession: make(map[string]map[S]bool),
		bySocket:  make(map[S]map[string]bool),
	}
}

// Subscribe records that socket wants events for sessionID.
func (i *Index[S]) Subscribe(socket S, sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.bySession[sessionID] == nil {
		i.bySession[sessionID] = make(map[S]bool)
	}
	i.bySession[sessionID][socket] = true

	if i.bySocket[socket] == nil {
		i.bySocket[socket] = make(map[string]bool)
	}
	i.bySocket[socket][sessionID] = true
}

// Unsubscribe removes a single session subscription for the socket.
func (i *Index[S]) Unsubscribe(socket S, sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if subs := i.bySession[sessionID]; subs != nil {
		delete(subs, socket)
		if len(subs) == 0 {
			delete(i.bySession, sessionID)
		}
	}
	if sessions := i.bySocket[socket]; sessions != nil {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(i.bySocket, socket)
		}
	}
}

// ForgetSocket removes the socket from every session it was subscribed to.
func (i *Index[S]) ForgetSocket(socket S) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for sessionID := range i.bySocket[socket] {
		subs := i.bySession[sessionID]
		delete(subs, socket)
		if len(subs) == 0 {
			delete(i.bySession, sessionID)
		}
	}
	delete(i.bySocket, socket)
}

// Subscribers returns the sockets subscribed to sessionID.
func (i *Index[S]) Subscribers(sessionID string) []S {
	i.mu.RLock()
	defer i.mu.RUnlock()

	subs := i.bySession[sessionID]
	out := make([]S, 0, len(subs))
	for s := range subs {
		out = append(out, s)
	}
	return out
}

// IsSubscribed reports whether the socket is subscribed to sessionID.
func (i *Index[S]) IsSubscribed(socket S, sessionID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.bySession[sessionID][socket]
}

// SessionsOf returns the session ids the socket is subscribed to.
func (i *Index[S]) SessionsOf(socket S) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	sessions := i.bySocket[socket]
	out := make([]string, 0, len(sessions))
	for id := range sessions {
		out = append(out, id)
	}
	return out
}

// SessionCount returns the number of sessions with at least one subscriber.
func (i *Index[S]) SessionCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.bySession)
}
