// ABOUTME: Registry of named agent execution profiles loaded from a TOML file
// ABOUTME: Resolves an agent key to its model, sampling defaults, and system description

package agents

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
)

// ErrUnknownAgent is returned when an agent key has no profile. This is a
// configuration error: it fails before any network call is attempted.
var ErrUnknownAgent = errors.New("unknown agent")

// Profile is one named agent execution configuration.
type Profile struct {
	Key         string  `toml:"-"`
	Model       string  `toml:"model"`
	Description string  `toml:"description"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// registryFile is the on-disk shape of the agents TOML file:
//
//	[agents.assistant]
//	model = "gpt-4o-mini"
//	description = "You are a helpful engineering assistant."
//	temperature = 0.7
//	max_tokens = 1024
type registryFile struct {
	Agents map[string]Profile `toml:"agents"`
}

// Registry holds the static agent profiles for this deployment.
type Registry struct {
	profiles map[string]Profile
}

// Load reads agent profiles from a TOML file.
func Load(path string) (*Registry, error) {
	var file registryFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("reading agents file: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agents file %s defines no agents", path)
	}

	reg := &Registry{profiles: make(map[string]Profile, len(file.Agents))}
	for key, p := range file.Agents {
		if p.Model == "" {
			return nil, fmt.Errorf("agent %q: model is required", key)
		}
		p.Key = key
		if p.MaxTokens == 0 {
			p.MaxTokens = 1024
		}
		reg.profiles[key] = p
	}
	return reg, nil
}

// NewRegistry builds a registry from an in-memory profile set.
func NewRegistry(profiles map[string]Profile) *Registry {
	reg := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for key, p := range profiles {
		p.Key = key
		reg.profiles[key] = p
	}
	return reg
}

// Resolve returns the profile for the given agent key.
func (r *Registry) Resolve(key string) (*Profile, error) {
	p, ok := r.profiles[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, key)
	}
	return &p, nil
}

// Keys returns all registered agent keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.profiles))
	for k := range r.profiles {
		keys = append(keys, k)
	}
	return keys
}
