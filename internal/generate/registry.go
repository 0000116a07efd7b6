package generate

import (
	"fmt"
	"sync"

	"github.com/kayz/tavernkit/internal/config"
)

// Registry resolves configured connection profiles to senders. Senders are
// created on first use and shared per provider.
type Registry struct {
	cfg *config.Config

	mu      sync.Mutex
	senders map[string]Sender
}

var _ Resolver = (*Registry)(nil)

func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{cfg: cfg, senders: make(map[string]Sender)}
}

func (r *Registry) Resolve(profileID string) (Sender, Profile, error) {
	pc, ok := r.cfg.Profile(profileID)
	if !ok {
		return nil, Profile{}, fmt.Errorf("unknown profile %q", profileID)
	}
	profile := ProfileFromConfig(pc)

	provider, ok := r.cfg.Provider(profile.Provider)
	if !ok {
		return nil, Profile{}, fmt.Errorf("profile %s: unknown provider %q", profileID, profile.Provider)
	}
	if profile.Model == "" {
		profile.Model = provider.Model
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.senders[provider.Name]; ok {
		return s, profile, nil
	}
	s, err := newSender(provider)
	if err != nil {
		return nil, Profile{}, err
	}
	r.senders[provider.Name] = s
	return s, profile, nil
}

func newSender(p config.ProviderConfig) (Sender, error) {
	switch p.Type {
	case "openai", "":
		return NewOpenAISender(p)
	case "anthropic":
		return NewAnthropicSender(p)
	default:
		return nil, fmt.Errorf("provider %s: unsupported type %q", p.Name, p.Type)
	}
}
