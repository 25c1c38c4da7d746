package cache

import (
	"context"
	"strings"

	scs "github.com/alexedwards/scs/v2"
)

const sessionNamespace = "cache:"

// SessionStore keeps entries in the visitor's session, so cached data lives
// exactly as long as the session and is never shared between visitors.
//
// Every call must carry a context loaded by SessionManager.LoadAndSave.
// Keys are namespaced so Clear leaves the rest of the session alone.
type SessionStore struct {
	sm *scs.SessionManager
}

// NewSessionStore wraps sm.
func NewSessionStore(sm *scs.SessionManager) *SessionStore {
	return &SessionStore{sm: sm}
}

// SessionScope is the event scope of the session with the given token.
func SessionScope(token string) string {
	return "session:" + token
}

// Scope implements Scoped.
func (s *SessionStore) Scope(ctx context.Context) string {
	return SessionScope(s.sm.Token(ctx))
}

// Read implements Reader.
func (s *SessionStore) Read(ctx context.Context, key string) (*Entry, bool) {
	return decodeEntry(s.sm.GetBytes(ctx, sessionNamespace+key))
}

// Write implements Writer.
func (s *SessionStore) Write(ctx context.Context, key string, entry *Entry) error {
	b, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	s.sm.Put(ctx, sessionNamespace+key, b)
	return nil
}

// Remove implements Remover.
func (s *SessionStore) Remove(ctx context.Context, key string) error {
	s.sm.Remove(ctx, sessionNamespace+key)
	return nil
}

// RemoveByPrefix implements Remover.
func (s *SessionStore) RemoveByPrefix(ctx context.Context, prefix string) error {
	full := sessionNamespace + prefix
	for _, k := range s.sm.Keys(ctx) {
		if strings.HasPrefix(k, full) {
			s.sm.Remove(ctx, k)
		}
	}
	return nil
}

// Clear implements Remover.
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.RemoveByPrefix(ctx, "")
}
