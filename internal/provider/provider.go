// Package provider defines the contract every upstream adapter fulfils
// and a registry the refresh command iterates over.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/Origamihase/wien-oepnv/internal/domain"
)

// Provider is one upstream source of disruption events. Refresh fetches
// the upstream, transforms the payload into canonical events and returns
// them; persisting the snapshot is the caller's job so adapters stay free
// of filesystem concerns.
type Provider interface {
	Name() string
	Enabled() bool
	CachePath() string
	Refresh(ctx context.Context) ([]domain.Event, error)
}

// Registry holds the configured providers in a stable order.
type Registry struct {
	providers []Provider
}

func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// All returns every registered provider, enabled or not.
func (r *Registry) All() []Provider {
	return r.providers
}

// Enabled returns the providers that are switched on.
func (r *Registry) Enabled() []Provider {
	var out []Provider
	for _, p := range r.providers {
		if p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

// Lookup finds a provider by name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	for _, p := range r.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Names lists the registered provider names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Name())
	}
	return out
}

// MakeGUID derives a stable identifier from its parts. Pipes and
// backslashes inside a part are escaped so distinct part lists can never
// collide after joining.
func MakeGUID(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		p = strings.ReplaceAll(p, `\`, `\\`)
		p = strings.ReplaceAll(p, "|", `\|`)
		escaped[i] = p
	}
	sum := sha256.Sum256([]byte(strings.Join(escaped, "|")))
	return hex.EncodeToString(sum[:])
}
