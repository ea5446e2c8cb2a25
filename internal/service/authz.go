package service

import (
	"pettycash/internal/apierror"
	"pettycash/internal/model"

	"github.com/google/uuid"
)

// Caller identifies who is invoking a mutating operation.
type Caller struct {
	UserID uuid.UUID
	Role   string
}

// Authorizer is the gate consulted before every mutating operation.
type Authorizer interface {
	// CanOperate: open, record, suspend, resume, close.
	CanOperate(c Caller) bool
	// CanAdminister: force delete.
	CanAdminister(c Caller) bool
}

// RoleAuthorizer grants cashier capability to cashiers, supervisors and
// administrators, and administrative capability to administrators only.
type RoleAuthorizer struct{}

func (RoleAuthorizer) CanOperate(c Caller) bool {
	switch c.Role {
	case model.RoleCashier, model.RoleSupervisor, model.RoleAdministrator:
		return c.UserID != uuid.Nil
	}
	return false
}

func (RoleAuthorizer) CanAdminister(c Caller) bool {
	return c.Role == model.RoleAdministrator && c.UserID != uuid.Nil
}

func requireOperator(a Authorizer, c Caller) error {
	if !a.CanOperate(c) {
		return apierror.Unauthorized("caller is not allowed to operate the cash drawer")
	}
	return nil
}
