package repo

import (
	"context"
	"database/sql"

	"hourline/internal/domain"
)

// RoleAssignment binds an actor to a configured role.
type RoleAssignment struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role_id) VALUES (?,?)`, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundError{Kind: "role assignment", ID: actorID + "/" + roleID}
	}
	return nil
}

func (r Repo) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r Repo) ListRoleAssignments(ctx context.Context) ([]RoleAssignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id, role_id FROM actor_roles ORDER BY actor_id, role_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		if err := rows.Scan(&a.ActorID, &a.RoleID); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
