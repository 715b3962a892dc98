// Package identity establishes who an anonymous visitor is: a durable
// anonymous user id that survives sessions and a session id that does not,
// plus visit recency and frequency counters.
package identity

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/trailmark-io/trailmark/internal/store"
)

// Durable-scope keys.
const (
	KeyAnonymousUserID = "anonymous_user_id"
	KeyFirstVisitDate  = "first_visit_date"
	KeyLastVisitDate   = "last_visit_date"
	KeySessionCount    = "session_count"
)

// Session-scope keys.
const (
	KeySessionID        = "session_id"
	KeySessionStartTime = "session_start_time"
	KeyPagesInSession   = "pages_in_session"
	KeyEventsInSession  = "events_in_session"
)

// KeyAnonymousCookie duplicates the anonymous id in the cookie scope for
// cross-subdomain durability.
const KeyAnonymousCookie = "trailmark_anonymous_id"

// Identity is the resolved snapshot for one call.
type Identity struct {
	AnonymousUserID     string
	SessionID           string
	IsNewSession        bool
	FirstVisitDate      time.Time
	LastVisitDate       time.Time
	SessionCount        int
	DaysSinceFirstVisit int
}

// Service resolves and maintains identity state over the injected stores.
// Storage failures degrade to in-memory values for the current call; nothing
// here may break the page that sent the beacon.
type Service struct {
	stores store.Stores
	now    func() time.Time
}

// NewService creates an identity service over the given stores.
func NewService(stores store.Stores) *Service {
	return &Service{stores: stores, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Resolve returns the current identity, creating and persisting any missing
// pieces as a side effect. On a new session it increments the durable session
// counter and stamps the first visit date if absent.
func (s *Service) Resolve(ctx context.Context) Identity {
	now := s.now()

	id := Identity{
		AnonymousUserID: s.resolveAnonymousID(ctx),
	}

	sessionID, _ := store.GetString(ctx, s.stores.Session, KeySessionID)
	if sessionID == "" {
		sessionID = newOpaqueID()
		id.IsNewSession = true
		store.PutString(ctx, s.stores.Session, KeySessionID, sessionID)
		store.PutString(ctx, s.stores.Session, KeySessionStartTime, now.UTC().Format(time.RFC3339))

		id.SessionCount = s.incrementSessionCount(ctx)

		if first, _ := store.GetString(ctx, s.stores.Durable, KeyFirstVisitDate); first == "" {
			store.PutString(ctx, s.stores.Durable, KeyFirstVisitDate, now.UTC().Format(time.RFC3339))
		}
	} else {
		id.SessionCount = s.readSessionCount(ctx)
	}
	id.SessionID = sessionID

	id.FirstVisitDate = s.readTime(ctx, KeyFirstVisitDate, now)
	store.PutString(ctx, s.stores.Durable, KeyLastVisitDate, now.UTC().Format(time.RFC3339))
	id.LastVisitDate = now
	id.DaysSinceFirstVisit = daysBetween(id.FirstVisitDate, now)

	return id
}

// DaysSinceFirstVisit returns whole days elapsed since the first visit.
// The first-ever call initializes the timestamp and returns 0.
func (s *Service) DaysSinceFirstVisit(ctx context.Context) int {
	now := s.now()
	raw, _ := store.GetString(ctx, s.stores.Durable, KeyFirstVisitDate)
	if raw == "" {
		store.PutString(ctx, s.stores.Durable, KeyFirstVisitDate, now.UTC().Format(time.RFC3339))
		return 0
	}
	first, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		slog.Warn("first visit date unparseable, reinitializing", "value", raw)
		store.PutString(ctx, s.stores.Durable, KeyFirstVisitDate, now.UTC().Format(time.RFC3339))
		return 0
	}
	return daysBetween(first, now)
}

// IncrementEventCount bumps the session's dispatched-event counter.
func (s *Service) IncrementEventCount(ctx context.Context) int {
	raw, _ := store.GetString(ctx, s.stores.Session, KeyEventsInSession)
	count, _ := strconv.Atoi(raw)
	count++
	store.PutString(ctx, s.stores.Session, KeyEventsInSession, strconv.Itoa(count))
	return count
}

// AppendPageVisited records a page path in the session's page list.
func (s *Service) AppendPageVisited(ctx context.Context, path string) {
	var pages []string
	store.GetJSON(ctx, s.stores.Session, KeyPagesInSession, &pages)
	pages = append(pages, path)
	store.PutJSON(ctx, s.stores.Session, KeyPagesInSession, pages)
}

// PagesVisited returns the session's page list.
func (s *Service) PagesVisited(ctx context.Context) []string {
	var pages []string
	store.GetJSON(ctx, s.stores.Session, KeyPagesInSession, &pages)
	return pages
}

// Reset clears all identity state across every scope. A subsequent Resolve
// generates a fresh anonymous id.
func (s *Service) Reset(ctx context.Context) {
	for _, key := range []string{KeyAnonymousUserID, KeyFirstVisitDate, KeyLastVisitDate, KeySessionCount} {
		if err := s.stores.Durable.Delete(ctx, key); err != nil {
			slog.Warn("identity reset: durable delete failed", "key", key, "error", err)
		}
	}
	if err := s.stores.Session.Clear(ctx); err != nil {
		slog.Warn("identity reset: session clear failed", "error", err)
	}
	if err := s.stores.Cookie.Delete(ctx, KeyAnonymousCookie); err != nil {
		slog.Warn("identity reset: cookie delete failed", "error", err)
	}
}

// resolveAnonymousID resolves durable store first, then the cookie fallback,
// then generates. The resolved id is written back to both scopes so either
// one surviving is enough next time.
func (s *Service) resolveAnonymousID(ctx context.Context) string {
	anonID, _ := store.GetString(ctx, s.stores.Durable, KeyAnonymousUserID)
	if anonID == "" {
		anonID, _ = store.GetString(ctx, s.stores.Cookie, KeyAnonymousCookie)
	}
	if anonID == "" {
		anonID = newOpaqueID()
	}
	store.PutString(ctx, s.stores.Durable, KeyAnonymousUserID, anonID)
	store.PutString(ctx, s.stores.Cookie, KeyAnonymousCookie, anonID)
	return anonID
}

func (s *Service) incrementSessionCount(ctx context.Context) int {
	count := s.readSessionCount(ctx)
	count++
	store.PutString(ctx, s.stores.Durable, KeySessionCount, strconv.Itoa(count))
	return count
}

func (s *Service) readSessionCount(ctx context.Context) int {
	raw, _ := store.GetString(ctx, s.stores.Durable, KeySessionCount)
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return count
}

func (s *Service) readTime(ctx context.Context, key string, fallback time.Time) time.Time {
	raw, _ := store.GetString(ctx, s.stores.Durable, key)
	if raw == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return t
}

// newOpaqueID generates an identifier. UUIDv4 collision probability is
// treated as negligible.
func newOpaqueID() string {
	return uuid.NewString()
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}
