package rbac

type Permission string
type Action string

const (
	PermissionNone Permission = "none"
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
	// PermissionOwner is never stored; it is what the owner of a project resolves to.
	PermissionOwner Permission = "owner"
)

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionManage Action = "manage"
)

func Can(permission Permission, action Action) bool {
	switch permission {
	case PermissionOwner:
		return true
	case PermissionEdit:
		return action == ActionView || action == ActionEdit
	case PermissionView:
		return action == ActionView
	default:
		return false
	}
}

// Grantable reports whether p may be stored on a share or an invitation.
func Grantable(p Permission) bool {
	return p == PermissionView || p == PermissionEdit
}

func Normalize(permission string) Permission {
	switch Permission(permission) {
	case PermissionView, PermissionEdit, PermissionOwner:
		return Permission(permission)
	default:
		return PermissionNone
	}
}
