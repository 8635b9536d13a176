package store

import (
	"context"
	"database/sql"
	"errors"
)

// Admin roles checked by the router.
const (
	RoleManageMileage = "CanManageMileage"
	RoleAdjustMileage = "CanAdjustMileage"
	RoleViewMileage   = "CanViewMileage"
)

var AdminRoles = []string{RoleManageMileage, RoleAdjustMileage, RoleViewMileage}

type AdminStore struct {
	db DB
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

// IsAdmin reports whether userID is an admin and whether it is a super admin.
func (s *AdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	var isSuper bool
	err := s.db.GetContext(ctx, &isSuper, `
		SELECT is_super
		FROM admins
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, isSuper, nil
}

func (s *AdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM admin_roles WHERE admin_user_id = $1 AND role = $2
		)
	`, userID, role)
	return exists, err
}

func (s *AdminStore) Roles(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	err := s.db.SelectContext(ctx, &roles, `
		SELECT role
		FROM admin_roles
		WHERE admin_user_id = $1
		ORDER BY role
	`, userID)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// Promote makes userID an admin. Promoting an existing admin is a no-op.
func (s *AdminStore) Promote(ctx context.Context, tx Execer, userID string, isSuper bool, createdBy string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admins (user_id, is_super, created_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, isSuper, nullString(createdBy))
	return err
}

func (s *AdminStore) GrantRole(ctx context.Context, tx Execer, adminUserID, role string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admin_roles (admin_user_id, role)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, adminUserID, role)
	return err
}

func (s *AdminStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM admins)`)
	return exists, err
}

// IsKnownRole reports whether role is one the router checks.
func IsKnownRole(role string) bool {
	for _, known := range AdminRoles {
		if known == role {
			return true
		}
	}
	return false
}
