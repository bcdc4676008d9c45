// Package profile holds the named connection profiles jobs run against.
//
// A profile names a Zoho organisation: which data center it lives in, the
// OAuth access token to call it with and any product-specific parameters
// (portal name, app owner, workspace). Acquiring and refreshing tokens is
// someone else's job; profiles carry whatever token they are given.
package profile

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/teranos/zbulk/errors"
)

// Profile is one named connection
type Profile struct {
	Name        string `toml:"-" json:"name"`
	DataCenter  string `toml:"data_center,omitempty" json:"data_center"`
	AccessToken string `toml:"access_token,omitempty" json:"-"`
	// TokenEnv names an environment variable holding the token, so the
	// secret never has to live in the profiles file
	TokenEnv string         `toml:"token_env,omitempty" json:"token_env,omitempty"`
	OrgID    string         `toml:"org_id,omitempty" json:"org_id,omitempty"`
	Params   map[string]any `toml:"params,omitempty" json:"params,omitempty"`
}

// Token returns the access token, reading TokenEnv when no literal token is set
func (p Profile) Token() string {
	if p.AccessToken != "" {
		return p.AccessToken
	}
	if p.TokenEnv != "" {
		return os.Getenv(p.TokenEnv)
	}
	return ""
}

// Param returns a string parameter, or "" when unset
func (p Profile) Param(name string) string {
	if v, ok := p.Params[name]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Validate checks the profile can be used for remote calls
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.NewInvalidRequestError("profile name is required")
	}
	if p.Token() == "" {
		return errors.WithHint(
			errors.NewInvalidRequestError("profile %q has no access token", p.Name),
			"set access_token, or token_env to the name of an environment variable holding it")
	}
	return nil
}

// Store looks up profiles by name
type Store interface {
	Get(name string) (Profile, error)
	List() []Profile
}

// MemoryStore is a Store over a fixed set of profiles
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemoryStore creates a store holding profiles
func NewMemoryStore(profiles ...Profile) *MemoryStore {
	s := &MemoryStore{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.Name] = p
	}
	return s
}

// Get returns the named profile or a not-found error
func (s *MemoryStore) Get(name string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.profiles, name)
}

// List returns every profile sorted by name
func (s *MemoryStore) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.profiles)
}

// Put adds or replaces a profile
func (s *MemoryStore) Put(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Name] = p
}

func lookup(profiles map[string]Profile, name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, errors.NewNotFoundError("profile %q", name)
	}
	return p, nil
}

func sorted(profiles map[string]Profile) []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
