package core

import (
	"fmt"

	"queryguard/internal/types"
)

// ProviderRegistry is the fixed set of channel providers built at startup.
// Registration order is preserved so dispatch results list channels in a
// stable order.
type ProviderRegistry struct {
	providers []ChannelProvider
	byChannel map[types.Channel]ChannelProvider
}

// NewProviderRegistry registers providers. nil entries are ignored so callers
// can pass an optional provider directly; two providers for the same channel
// are rejected.
func NewProviderRegistry(providers ...ChannelProvider) (*ProviderRegistry, error) {
	r := &ProviderRegistry{byChannel: make(map[types.Channel]ChannelProvider)}
	for _, p := range providers {
		if p == nil {
			continue
		}
		ch := p.Channel()
		if existing, dup := r.byChannel[ch]; dup {
			return nil, fmt.Errorf("provider registry: channel %q already served by %s", ch, ProviderName(existing))
		}
		r.byChannel[ch] = p
		r.providers = append(r.providers, p)
	}
	return r, nil
}

// Providers returns the registered providers in registration order.
func (r *ProviderRegistry) Providers() []ChannelProvider {
	out := make([]ChannelProvider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Get returns the provider serving ch.
func (r *ProviderRegistry) Get(ch types.Channel) (ChannelProvider, bool) {
	p, ok := r.byChannel[ch]
	return p, ok
}

// Channels lists the registered channels in registration order.
func (r *ProviderRegistry) Channels() []types.Channel {
	out := make([]types.Channel, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Channel())
	}
	return out
}

// Len reports how many providers are registered.
func (r *ProviderRegistry) Len() int { return len(r.providers) }
