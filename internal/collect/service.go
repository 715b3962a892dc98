// Package collect is the HTTP surface of the engine: it receives beacons from
// the marketing site, resolves the visitor's profile from the anonymous-id
// cookie, and runs the per-profile analytics pipeline against the injected
// storage backends.
package collect

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/trailmark-io/trailmark/internal/analytics"
	"github.com/trailmark-io/trailmark/internal/attribution"
	"github.com/trailmark-io/trailmark/internal/funnel"
	"github.com/trailmark-io/trailmark/internal/identity"
	"github.com/trailmark-io/trailmark/internal/provider"
	"github.com/trailmark-io/trailmark/internal/store"
)

type Service struct {
	durable          store.Backend
	session          store.Backend
	dispatcher       *provider.Dispatcher
	definitions      []*funnel.Definition
	internalDomains  []string
	maxKeys          int
	maxBodySizeBytes int
}

func NewService(
	durable store.Backend,
	session store.Backend,
	dispatcher *provider.Dispatcher,
	definitions []*funnel.Definition,
	internalDomains []string,
	maxKeys int,
	maxBodySizeKB int,
) *Service {
	if durable == nil {
		panic("collect: durable backend must not be nil")
	}
	if session == nil {
		panic("collect: session backend must not be nil")
	}
	if dispatcher == nil {
		panic("collect: dispatcher must not be nil")
	}
	if maxBodySizeKB <= 0 {
		maxBodySizeKB = 64
	}
	return &Service{
		durable:          durable,
		session:          session,
		dispatcher:       dispatcher,
		definitions:      definitions,
		internalDomains:  internalDomains,
		maxKeys:          maxKeys,
		maxBodySizeBytes: maxBodySizeKB * 1024,
	}
}

// RegisterRoutes registers the collection service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/track", s.TrackHandler)
	r.POST("/v1/pageview", s.PageViewHandler)
	r.POST("/v1/conversion", s.ConversionHandler)
	r.POST("/v1/funnels/:key/dropoff", s.DropOffHandler)
	r.POST("/v1/reset", s.ResetHandler)

	r.GET("/v1/identity", s.IdentityHandler)
	r.GET("/v1/attribution", s.AttributionHandler)
	r.GET("/v1/funnels/:key/journey", s.JourneyHandler)
}

// profileSession is the per-request view of one visitor: the analytics
// service wired over that profile's slice of the shared backends.
type profileSession struct {
	profileID   string
	analytics   *analytics.Service
	attribution *attribution.Tracker
	funnels     *funnel.Manager
}

// openProfile resolves the visitor's profile id from the anonymous-id cookie,
// generating one for first-time visitors, and assembles the analytics
// pipeline scoped to that profile.
func (s *Service) openProfile(c *gin.Context) *profileSession {
	profileID, err := c.Cookie(identity.KeyAnonymousCookie)
	fresh := err != nil || profileID == ""
	if fresh {
		profileID = uuid.NewString()
	}

	stores := store.Stores{
		Durable: s.durable.ForProfile(profileID),
		Session: s.session.ForProfile(profileID),
		Cookie:  newCookieKV(c),
	}
	if fresh {
		// Seed the new id into the cookie scope so identity resolution adopts
		// it instead of minting a second one.
		store.PutString(c.Request.Context(), stores.Cookie, identity.KeyAnonymousCookie, profileID)
	}

	ident := identity.NewService(stores)
	attr := attribution.NewTracker(stores, ident, s.internalDomains)

	trackers := make([]*funnel.Tracker, 0, len(s.definitions))
	for _, def := range s.definitions {
		trackers = append(trackers, funnel.NewTracker(def, stores, attr))
	}
	funnels := funnel.NewManager(trackers)

	return &profileSession{
		profileID:   profileID,
		analytics:   analytics.NewService(ident, attr, funnels, s.dispatcher, s.maxKeys),
		attribution: attr,
		funnels:     funnels,
	}
}

func (s *Service) knownFunnel(key string) bool {
	for _, def := range s.definitions {
		if def.Key == key {
			return true
		}
	}
	return false
}
