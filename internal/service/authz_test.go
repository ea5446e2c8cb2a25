package service

import (
	"testing"

	"pettycash/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRoleAuthorizer(t *testing.T) {
	a := RoleAuthorizer{}
	id := uuid.New()

	for _, role := range []string{model.RoleCashier, model.RoleSupervisor, model.RoleAdministrator} {
		assert.True(t, a.CanOperate(Caller{UserID: id, Role: role}), role)
	}
	assert.False(t, a.CanOperate(Caller{UserID: id, Role: "auditor"}))
	assert.False(t, a.CanOperate(Caller{Role: model.RoleCashier}), "missing user id")

	assert.True(t, a.CanAdminister(Caller{UserID: id, Role: model.RoleAdministrator}))
	assert.False(t, a.CanAdminister(Caller{UserID: id, Role: model.RoleSupervisor}))
	assert.False(t, a.CanAdminister(Caller{UserID: id, Role: model.RoleCashier}))
}
