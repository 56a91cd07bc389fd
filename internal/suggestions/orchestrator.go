// Package suggestions produces personalized page and follow-up suggestions
// from cross-session memory, falling back to static lists.
package suggestions

import (
	"context"
	"log/slog"

	"github.com/Rev4nchist/agent-arch/internal/crosssession"
	"github.com/Rev4nchist/agent-arch/internal/governor"
	"github.com/Rev4nchist/agent-arch/internal/policy"
)

// Fallback reasons reported on non-personalized responses.
const (
	FallbackDisabled = "feature_disabled"
	FallbackNoUser   = "no_user_id"
	FallbackNoMemory = "no_memory_data"
)

// BundleSource supplies the cross-session memory bundle.
type BundleSource interface {
	Bundle(ctx context.Context, userID, sessionID string, keywords []string) crosssession.Bundle
}

// Observer records response outcomes.
type Observer interface {
	ObserveSuggestions(kind string, personalized bool)
}

type Config struct {
	Enabled     bool
	MaxPage     int
	MaxFollowUp int
}

func DefaultConfig() Config {
	return Config{Enabled: true, MaxPage: 6, MaxFollowUp: 4}
}

type PageRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Page      string `json:"page,omitempty"`
}

type FollowUpRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Page      string `json:"page,omitempty"`
	Query     string `json:"query"`
	Intent    string `json:"intent,omitempty"`
}

type Response struct {
	Suggestions    []Suggestion           `json:"suggestions"`
	Personalized   bool                   `json:"personalized"`
	FallbackReason string                 `json:"fallback_reason,omitempty"`
	Expertise      crosssession.Expertise `json:"expertise,omitempty"`
}

type Orchestrator struct {
	cfg      Config
	bundles  BundleSource
	memory   MemoryProvider
	static   StaticProvider
	intents  IntentProvider
	observer Observer
	logger   *slog.Logger
}

// NewOrchestrator builds an orchestrator over the given catalog. observer
// and logger may be nil.
func NewOrchestrator(cfg Config, bundles BundleSource, catalog Catalog, observer Observer, logger *slog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxPage <= 0 {
		cfg.MaxPage = def.MaxPage
	}
	if cfg.MaxFollowUp <= 0 {
		cfg.MaxFollowUp = def.MaxFollowUp
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		bundles:  bundles,
		static:   NewStaticProvider(catalog),
		intents:  NewIntentProvider(catalog),
		observer: observer,
		logger:   logger,
	}
}

// PageSuggestions returns the initial suggestions for a page.
func (o *Orchestrator) PageSuggestions(ctx context.Context, req PageRequest) Response {
	bundle, reason := o.bundle(ctx, req.UserID, req.SessionID, nil)
	if reason != "" {
		return o.fallback("page", req.Page, o.cfg.MaxPage, reason)
	}

	pool := o.memory.Suggest(bundle)
	pool = append(pool, o.static.Suggest(req.Page)...)
	return o.respond("page", Response{
		Suggestions:  Rank(pool, o.cfg.MaxPage),
		Personalized: true,
		Expertise:    bundle.Expertise,
	})
}

// FollowUpSuggestions returns suggestions after a query has been answered.
// The intent is detected from the query when the caller supplies none.
func (o *Orchestrator) FollowUpSuggestions(ctx context.Context, req FollowUpRequest) Response {
	keywords := governor.ExtractKeywords(req.Query, nil)
	bundle, reason := o.bundle(ctx, req.UserID, req.SessionID, keywords)
	if reason != "" {
		return o.fallback("follow_up", req.Page, o.cfg.MaxFollowUp, reason)
	}

	intent := req.Intent
	if intent == "" {
		intent = policy.DetectIntent(req.Query)
	}
	pool := o.intents.Suggest(intent, bundle.OpenLoops)
	pool = append(pool, o.memory.Suggest(bundle)...)
	pool = append(pool, o.static.Suggest(req.Page)...)
	return o.respond("follow_up", Response{
		Suggestions:  Rank(pool, o.cfg.MaxFollowUp),
		Personalized: true,
		Expertise:    bundle.Expertise,
	})
}

func (o *Orchestrator) bundle(ctx context.Context, userID, sessionID string, keywords []string) (crosssession.Bundle, string) {
	switch {
	case !o.cfg.Enabled:
		return crosssession.Bundle{}, FallbackDisabled
	case userID == "":
		return crosssession.Bundle{}, FallbackNoUser
	}
	b := o.bundles.Bundle(ctx, userID, sessionID, keywords)
	if b.IsEmpty() {
		return b, FallbackNoMemory
	}
	return b, ""
}

// fallback serves the page's static list without source caps.
func (o *Orchestrator) fallback(kind, page string, max int, reason string) Response {
	o.logger.Debug("suggestions fallback", "kind", kind, "page", page, "reason", reason)
	return o.respond(kind, Response{
		Suggestions:    rank(o.static.Suggest(page), max, nil),
		FallbackReason: reason,
	})
}

func (o *Orchestrator) respond(kind string, r Response) Response {
	if o.observer != nil {
		o.observer.ObserveSuggestions(kind, r.Personalized)
	}
	return r
}
