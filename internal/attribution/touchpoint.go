// Package attribution records marketing touchpoints and derives first-touch,
// last-touch, and journey summaries from them. A touchpoint is one
// attributable entry into the site; at most one is recorded per session.
package attribution

import (
	"strings"
	"time"

	"github.com/trailmark-io/trailmark/internal/page"
)

// Sentinel values used when a dimension cannot be resolved.
const (
	SourceDirect   = "direct"
	MediumNone     = "none"
	CampaignNotSet = "not_set"
)

// Touchpoint is one recorded marketing entry point.
type Touchpoint struct {
	Timestamp      time.Time `json:"timestamp"`
	Source         string    `json:"source"`
	Medium         string    `json:"medium"`
	Campaign       string    `json:"campaign"`
	Content        string    `json:"content,omitempty"`
	Term           string    `json:"term,omitempty"`
	ReferrerDomain string    `json:"referrer_domain,omitempty"`
	LandingPage    string    `json:"landing_page"`
	SessionID      string    `json:"session_id"`
}

// Snapshot annotates a touchpoint with its position in the journey.
type Snapshot struct {
	Touchpoint
	IsFirstTouch    bool `json:"is_first_touch"`
	TouchpointIndex int  `json:"touchpoint_index"`
}

// referrerClass is the small fixed taxonomy referrers classify into.
type referrerClass struct {
	source string
	medium string
}

var searchEngines = map[string]string{
	"google":     "google",
	"bing":       "bing",
	"yahoo":      "yahoo",
	"duckduckgo": "duckduckgo",
	"baidu":      "baidu",
	"yandex":     "yandex",
}

var socialPlatforms = map[string]string{
	"facebook":  "facebook",
	"fb":        "facebook",
	"instagram": "instagram",
	"twitter":   "twitter",
	"t.co":      "twitter",
	"x.com":     "twitter",
	"linkedin":  "linkedin",
	"lnkd":      "linkedin",
	"youtube":   "youtube",
	"youtu.be":  "youtube",
	"tiktok":    "tiktok",
	"reddit":    "reddit",
	"pinterest": "pinterest",
}

// classifyReferrer maps a referrer domain into the taxonomy: search engine,
// social platform, internal navigation, direct (no referrer), or generic
// referral.
func classifyReferrer(domain string, internalDomains []string) referrerClass {
	if domain == "" {
		return referrerClass{source: SourceDirect, medium: MediumNone}
	}
	for _, internal := range internalDomains {
		if domain == internal || strings.HasSuffix(domain, "."+internal) {
			return referrerClass{source: "internal", medium: "internal"}
		}
	}
	for fragment, source := range searchEngines {
		if strings.Contains(domain, fragment) {
			return referrerClass{source: source, medium: "organic"}
		}
	}
	for fragment, source := range socialPlatforms {
		if domain == fragment || strings.Contains(domain, fragment+".") || strings.Contains(domain, "."+fragment) {
			return referrerClass{source: source, medium: "social"}
		}
	}
	return referrerClass{source: domain, medium: "referral"}
}

// buildTouchpoint resolves the attribution dimensions for one page load.
// Explicit UTM parameters win; otherwise the referrer classification decides;
// otherwise the visit is direct.
func buildTouchpoint(pc page.Context, internalDomains []string, sessionID string, at time.Time) Touchpoint {
	query := pc.Query()
	domain := pc.ReferrerDomain()
	class := classifyReferrer(domain, internalDomains)

	tp := Touchpoint{
		Timestamp:      at,
		Source:         class.source,
		Medium:         class.medium,
		Campaign:       CampaignNotSet,
		Content:        query.Get("utm_content"),
		Term:           query.Get("utm_term"),
		ReferrerDomain: domain,
		LandingPage:    pc.Path(),
		SessionID:      sessionID,
	}

	// Per-dimension precedence: explicit UTM beats referrer classification.
	if source := query.Get("utm_source"); source != "" {
		tp.Source = source
	}
	if medium := query.Get("utm_medium"); medium != "" {
		tp.Medium = medium
	}
	if campaign := query.Get("utm_campaign"); campaign != "" {
		tp.Campaign = campaign
	}
	return tp
}
