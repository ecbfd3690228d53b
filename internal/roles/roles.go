package roles

type Role string
type Action string

const (
	RoleStudent   Role = "student"
	RoleCounselor Role = "counselor"
)

const (
	ActionChat       Action = "chat"
	ActionViewRoster Action = "roster"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleCounselor:
		return action == ActionChat || action == ActionViewRoster
	case RoleStudent:
		return action == ActionChat
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleStudent, RoleCounselor:
		return Role(role)
	default:
		return RoleStudent
	}
}

func Known(role string) bool {
	switch Role(role) {
	case RoleStudent, RoleCounselor:
		return true
	default:
		return false
	}
}
