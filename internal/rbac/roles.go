package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleGuest      = "guest"
	RoleUser       = "user"
	RoleHost       = "host"
	RoleStaff      = "staff"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// CanModerate reports whether the role may approve, reject or feature
// listings of any owner.
func CanModerate(role string) bool {
	switch role {
	case RoleStaff, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

func IsKnownRole(role string) bool {
	switch role {
	case RoleGuest, RoleUser, RoleHost, RoleStaff, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}
