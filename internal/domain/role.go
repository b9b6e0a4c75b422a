package domain

type RoleKind uint8

const (
	RoleUnhosted RoleKind = iota
	RoleHosting
	RoleGuest
)

func (k RoleKind) String() string {
	switch k {
	case RoleHosting:
		return "hosting"
	case RoleGuest:
		return "guest"
	default:
		return "unhosted"
	}
}

// Role is the participant's single current role. Host is only set for
// RoleGuest, so hosting and guesting can never be held at the same time.
type Role struct {
	Kind RoleKind
	Host SessionID
}

func Unhosted() Role              { return Role{Kind: RoleUnhosted} }
func Hosting() Role               { return Role{Kind: RoleHosting} }
func GuestOf(host SessionID) Role { return Role{Kind: RoleGuest, Host: host} }
func (r Role) IsHosting() bool    { return r.Kind == RoleHosting }
func (r Role) IsGuest() bool      { return r.Kind == RoleGuest }
func (r Role) IsUnhosted() bool   { return r.Kind == RoleUnhosted }

func (r Role) String() string {
	if r.Kind == RoleGuest {
		return "guest of " + string(r.Host)
	}
	return r.Kind.String()
}
