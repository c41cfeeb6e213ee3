// Package session keeps one in-memory merge pipeline per browser.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"salesmerge/internal/config"
	"salesmerge/internal/observability"
	"salesmerge/internal/services"
)

type entry struct {
	pipeline *services.Pipeline
	lastSeen time.Time
}

// Store maps session ids to pipelines. Sessions idle for longer than the TTL
// are removed by Sweep.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	factory  func() *services.Pipeline
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewStore(ttl time.Duration, factory func() *services.Pipeline, logger *slog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*entry),
		factory:  factory,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// Get returns the pipeline of a live session and refreshes its idle timer.
func (s *Store) Get(id string) (*services.Pipeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = s.now()
	return e.pipeline, true
}

// GetOrCreate returns the session for id, starting a new one under a fresh
// id when id is unknown or expired.
func (s *Store) GetOrCreate(id string) (string, *services.Pipeline, bool) {
	if id != "" {
		if p, ok := s.Get(id); ok {
			return id, p, false
		}
	}

	id = uuid.NewString()
	p := s.factory()

	s.mu.Lock()
	s.sessions[id] = &entry{pipeline: p, lastSeen: s.now()}
	s.mu.Unlock()

	s.logger.Debug("session created", "session_id", id)
	return id, p, true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, e := range s.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("expired sessions removed", "count", n, "remaining", s.Len())
			}
		}
	}
}

type pipelineKey struct{}

// Middleware resolves the caller's session from its cookie, creating one on
// first contact, and stores the pipeline in the request context. The cookie is
// re-sent on every request so its lifetime tracks the idle TTL.
func Middleware(store *Store, cfg config.SessionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var current string
			if c, err := r.Cookie(cfg.CookieName); err == nil {
				current = c.Value
			}

			id, pipeline, _ := store.GetOrCreate(current)
			http.SetCookie(w, &http.Cookie{
				Name:     cfg.CookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   int(cfg.TTL.Seconds()),
			})

			ctx := WithPipeline(observability.WithSessionID(r.Context(), id), pipeline)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Pipeline returns the session pipeline stored by Middleware.
func Pipeline(ctx context.Context) (*services.Pipeline, bool) {
	p, ok := ctx.Value(pipelineKey{}).(*services.Pipeline)
	return p, ok
}

// WithPipeline stores p as the request's session pipeline.
func WithPipeline(ctx context.Context, p *services.Pipeline) context.Context {
	return context.WithValue(ctx, pipelineKey{}, p)
}
