package auth

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"hourline/internal/config"
)

// Permissions understood by hourline. Only rates.view changes behaviour: it
// decides whether costs and amounts are shown. The rest label roles for
// callers that do their own gating.
const (
	PermViewRates         = "rates.view"
	PermWriteEntries      = "entries.write"
	PermReviewEntries     = "entries.review"
	PermWriteContributors = "contributors.write"
	PermWriteAPIKeys      = "apikeys.write"
)

// UnknownRoleError is returned when assigning a role the config does not define.
type UnknownRoleError struct {
	Role string
}

func (e UnknownRoleError) Error() string {
	return fmt.Sprintf("role %s is not defined in config.rbac.roles", e.Role)
}

// Capabilities is what a principal may see.
type Capabilities struct {
	Roles       []string
	Permissions []string
	ShowRates   bool
}

// Service resolves roles stored per actor into permissions defined in config.
type Service struct {
	DB     *sql.DB
	Config *config.Config
}

func (s Service) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=?`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// RoleDefined reports whether role exists in config. Without configured roles
// every role is accepted.
func (s Service) RoleDefined(role string) error {
	if s.Config == nil || len(s.Config.RBAC.Roles) == 0 {
		return nil
	}
	if _, ok := s.Config.RBAC.Roles[role]; !ok {
		return UnknownRoleError{Role: role}
	}
	return nil
}

// PermissionsFor expands roles through config.
func (s Service) PermissionsFor(roles []string) []string {
	if s.Config == nil {
		return nil
	}
	var perms []string
	for _, role := range roles {
		perms = append(perms, s.Config.RBAC.Roles[role].Permissions...)
	}
	return perms
}

// Resolve merges stored roles for actorID with roles and permissions the
// caller already carries, such as token claims.
func (s Service) Resolve(ctx context.Context, actorID string, roles, perms []string) (Capabilities, error) {
	stored, err := s.ActorRoles(ctx, actorID)
	if err != nil {
		return Capabilities{}, fmt.Errorf("load roles for %s: %w", actorID, err)
	}
	allRoles := dedupe(append(append([]string(nil), roles...), stored...))
	allPerms := dedupe(append(append([]string(nil), perms...), s.PermissionsFor(allRoles)...))
	return Capabilities{
		Roles:       allRoles,
		Permissions: allPerms,
		ShowRates:   HasPermission(allPerms, PermViewRates),
	}, nil
}

func HasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
