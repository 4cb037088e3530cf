package token

import (
	"github.com/charmbracelet/log"
)

// StorageKey is the key the token is stored under in every layer. It must be
// identical across layers so Clear can be exhaustive.
const StorageKey = "relink_session_token"

// Layer is a single storage backend for the session token.
//
// Get returns [shared.ErrTokenMissing] (wrapped or bare) when no token is
// stored. Implementations must be safe for concurrent use.
type Layer interface {
	Name() string
	Get() (string, error)
	Set(token string) error
	Clear() error
}

// Store fans the session token out across ordered layers, fastest first.
type Store struct {
	layers []Layer
	logger *log.Logger
}

// NewStore creates a [Store] over the given layers. The first layer is
// treated as the session-scoped cache: Set with persist=false writes only
// there.
func NewStore(logger *log.Logger, layers ...Layer) *Store {
	return &Store{layers: layers, logger: logger}
}

// Get returns the stored token, reading layers in order; the first non-empty
// hit wins.
func (s *Store) Get() (string, bool) {
	for _, l := range s.layers {
		tok, err := l.Get()
		if err == nil && tok != "" {
			return tok, true
		}
	}
	return "", false
}

// Set writes the token to the writable layers. With persist=false only the
// first (in-memory) layer is written. Partial failure of any one layer is
// logged, not fatal: remaining layers still satisfy Get.
func (s *Store) Set(tok string, persist bool) {
	for i, l := range s.layers {
		if !persist && i > 0 {
			break
		}
		if err := l.Set(tok); err != nil {
			s.logger.Warn("token layer write failed", "layer", l.Name(), "error", err)
		}
	}
}

// Clear removes the token from every layer. Per-layer failures are logged
// and ignored rather than short-circuiting, so one broken layer cannot leave
// the token behind in another.
func (s *Store) Clear() {
	for _, l := range s.layers {
		if err := l.Clear(); err != nil {
			s.logger.Warn("token layer clear failed", "layer", l.Name(), "error", err)
		}
	}
}
