package user

import (
	"context"

	"github.com/google/uuid"
)

// PrivilegeOracle answers whether a user holds elevated privileges.
// Only administrators are elevated; moderators are throttled like everyone else.
type PrivilegeOracle struct {
	repo Repository
}

// NewPrivilegeOracle creates a repository-backed privilege oracle
func NewPrivilegeOracle(repo Repository) *PrivilegeOracle {
	return &PrivilegeOracle{repo: repo}
}

// HasElevatedPrivilege reports whether userID is an administrator.
// Unknown users are not elevated.
func (o *PrivilegeOracle) HasElevatedPrivilege(ctx context.Context, userID uuid.UUID) (bool, error) {
	u, err := o.repo.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, nil
	}
	return u.IsAdmin(), nil
}
