package state_managers

import (
	"sort"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/benmeehan/router-agent/internal/utils"
	"github.com/benmeehan/router-agent/pkg/router"
)

// RouterEntry pairs a configured router with its current session. Session
// is nil while the router is not connected.
type RouterEntry struct {
	Config  utils.RouterConfig
	Session *router.Session
}

// Connected reports whether the entry holds a live session.
func (e RouterEntry) Connected() bool {
	return e.Session != nil && e.Session.Alive()
}

// SessionStore is the shared registry of router sessions, keyed by router
// name. It is safe for concurrent use by the services.
type SessionStore struct {
	entries cmap.ConcurrentMap[string, RouterEntry]
	logger  zerolog.Logger
}

// NewSessionStore registers every configured router without a session.
func NewSessionStore(routers []utils.RouterConfig, logger zerolog.Logger) *SessionStore {
	s := &SessionStore{
		entries: cmap.New[RouterEntry](),
		logger:  logger,
	}
	for _, rc := range routers {
		s.entries.Set(rc.Name, RouterEntry{Config: rc})
	}
	return s
}

// Get returns the entry of a configured router.
func (s *SessionStore) Get(name string) (RouterEntry, bool) {
	return s.entries.Get(name)
}

// Session returns the live session of a router.
func (s *SessionStore) Session(name string) (*router.Session, bool) {
	e, ok := s.entries.Get(name)
	if !ok || !e.Connected() {
		return nil, false
	}
	return e.Session, true
}

// SetSession installs session for a configured router and returns the one
// it replaced, if any. Unknown names are ignored.
func (s *SessionStore) SetSession(name string, session *router.Session) *router.Session {
	// Entries are never removed, so a name seen here stays present.
	if _, ok := s.entries.Get(name); !ok {
		return nil
	}
	var previous *router.Session
	s.entries.Upsert(name, RouterEntry{}, func(_ bool, current, _ RouterEntry) RouterEntry {
		previous = current.Session
		current.Session = session
		return current
	})
	if previous != nil && previous != session {
		s.logger.Debug().Str("router", name).Str("replaced", previous.ID()).Msg("Session replaced")
	}
	return previous
}

// ClearSession detaches the session of a router and returns it.
func (s *SessionStore) ClearSession(name string) *router.Session {
	return s.SetSession(name, nil)
}

// Names lists the configured routers in sorted order.
func (s *SessionStore) Names() []string {
	names := s.entries.Keys()
	sort.Strings(names)
	return names
}

// Entries returns a snapshot of every router, sorted by name.
func (s *SessionStore) Entries() []RouterEntry {
	items := s.entries.Items()
	out := make([]RouterEntry, 0, len(items))
	for _, name := range s.Names() {
		if e, ok := items[name]; ok {
			out = append(out, e)
		}
	}
	return out
}

// ConnectedCount returns the number of live sessions.
func (s *SessionStore) ConnectedCount() int {
	n := 0
	for e := range s.entries.IterBuffered() {
		if e.Val.Connected() {
			n++
		}
	}
	return n
}

// CloseAll closes and detaches every session.
func (s *SessionStore) CloseAll() {
	for _, name := range s.Names() {
		if session := s.ClearSession(name); session != nil {
			if err := session.Close(); err != nil {
				s.logger.Warn().Err(err).Str("router", name).Msg("Failed to close session")
			}
		}
	}
}
