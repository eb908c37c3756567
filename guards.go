package goRealtime

// Guard is a pure predicate over the principal attached to a connection.
// Guards are re-evaluated on every privileged message.
type Guard func(Principal) bool

// RequireAuthenticated admits any active principal.
func RequireAuthenticated() Guard {
	return func(p Principal) bool {
		return p.SubjectID != "" && p.IsActive
	}
}

// RequireAdmin admits admins only.
func RequireAdmin() Guard {
	return requireRoles(RoleAdmin)
}

// RequireTeacherOrAdmin admits teachers and admins.
func RequireTeacherOrAdmin() Guard {
	return requireRoles(RoleTeacher, RoleAdmin)
}

// RequireStudent admits students only.
func RequireStudent() Guard {
	return requireRoles(RoleStudent)
}

// RequireSelfOrAdmin admits the principal whose subject is targetID, and
// admins acting on anyone.
func RequireSelfOrAdmin(targetID string) Guard {
	return func(p Principal) bool {
		if !RequireAuthenticated()(p) {
			return false
		}
		return p.Role == RoleAdmin || (targetID != "" && p.SubjectID == targetID)
	}
}

// DenyAll rejects everyone.
func DenyAll() Guard {
	return func(Principal) bool { return false }
}

func requireRoles(roles ...string) Guard {
	return func(p Principal) bool {
		if !RequireAuthenticated()(p) {
			return false
		}
		for _, r := range roles {
			if p.Role == r {
				return true
			}
		}
		return false
	}
}
