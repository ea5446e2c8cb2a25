package model

// Roles carried in the caller's token. Users themselves live in the
// surrounding back office; this service only sees the role claim.
const (
	RoleCashier       = "cashier"
	RoleSupervisor    = "supervisor"
	RoleAdministrator = "administrator"
)
