package domain

// Role is the coarse authorization role attached to an authenticated actor.
// Authentication itself is an external collaborator; the engine only ever
// sees an already-resolved identity.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleManagement Role = "management"
)

// Actor is an authenticated identity acting on the engine.
type Actor struct {
	ID   string
	Role Role
}

// CanSupervise returns true for roles allowed to approve self-assignments,
// force holds, and reject work.
func (a Actor) CanSupervise() bool {
	return a.Role == RoleSupervisor || a.Role == RoleManagement
}
