package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleSubscriber  = "subscriber"
	RoleProvider    = "provider"
	RoleCoordinator = "coordinator"
	RoleAdmin       = "admin"
	RoleSystem      = "system" // hidden role, used by background jobs
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// CanManageCalls reports whether role may act on calls it does not own.
func CanManageCalls(role string) bool {
	return role == RoleAdmin || role == RoleCoordinator || role == RoleSystem
}
