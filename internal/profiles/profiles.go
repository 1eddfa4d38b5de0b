// Package profiles resolves submitting identities to the immutable attributes
// stamped onto the events they submit.
package profiles

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
)

var (
	// ErrUnknownIdentity indicates an identity with no configured profile.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrRoleMismatch indicates the identity's profile has a different role than the action requires.
	ErrRoleMismatch = errors.New("identity not permitted for this action")
)

// Role is the custody role an identity acts in.
type Role string

const (
	RoleFarmer    Role = "farmer"
	RoleProcessor Role = "processor"
	RoleLab       Role = "lab"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleFarmer || r == RoleProcessor || r == RoleLab
}

// Profile holds the attributes injected into events submitted by Identity.
// For a farmer Name is the collector and Location the farm; for processors and
// labs Facility and Location name the site and Manager its manager.
type Profile struct {
	Identity string `toml:"identity" json:"identity"`
	Role     Role   `toml:"role" json:"role"`
	Name     string `toml:"name" json:"name"`
	Facility string `toml:"facility" json:"facility,omitempty"`
	Location string `toml:"location" json:"location"`
	Manager  string `toml:"manager" json:"manager,omitempty"`
}

// Registry is a read-only identity to profile table built once at startup.
type Registry struct {
	byIdentity map[string]Profile
}

// NewRegistry validates and indexes profiles.
func NewRegistry(profiles []Profile) (*Registry, error) {
	r := &Registry{byIdentity: make(map[string]Profile, len(profiles))}

	for i, p := range profiles {
		if p.Identity == "" {
			return nil, fmt.Errorf("profile %d: identity required", i)
		}
		if !p.Role.Valid() {
			return nil, fmt.Errorf("profile %s: unknown role %q", p.Identity, p.Role)
		}
		if _, dup := r.byIdentity[p.Identity]; dup {
			return nil, fmt.Errorf("profile %s: duplicate identity", p.Identity)
		}
		r.byIdentity[p.Identity] = p
	}
	return r, nil
}

// Lookup returns the profile for identity.
func (r *Registry) Lookup(identity string) (Profile, error) {
	p, ok := r.byIdentity[identity]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownIdentity, identity)
	}
	return p, nil
}

// Resolve returns identity's profile, requiring it to act in role.
func (r *Registry) Resolve(identity string, role Role) (Profile, error) {
	p, err := r.Lookup(identity)
	if err != nil {
		return Profile{}, err
	}
	if p.Role != role {
		return Profile{}, fmt.Errorf("%w: %s is a %s, not a %s", ErrRoleMismatch, identity, p.Role, role)
	}
	return p, nil
}

// Identities lists configured identities in sorted order.
func (r *Registry) Identities() []string {
	out := make([]string, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// MapHTTPStatus maps profile errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrUnknownIdentity) || errors.Is(err, ErrRoleMismatch) {
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
