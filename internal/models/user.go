package models

// Roles that may issue operator alerts
const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleDeveloper = "developer"
)

// Profile represents a user as supplied by the identity provider.
// The messaging core never mutates it.
type Profile struct {
	ID            string   `json:"id" db:"id"`
	DisplayName   string   `json:"displayName" db:"display_name"`
	AvatarURL     *string  `json:"avatarUrl,omitempty" db:"avatar_url"`
	ChatColor     string   `json:"chatColor" db:"chat_color"`
	GradientStart *string  `json:"gradientStart,omitempty" db:"gradient_start"`
	GradientEnd   *string  `json:"gradientEnd,omitempty" db:"gradient_end"`
	Roles         []string `json:"roles"`
}

// HasRole reports whether the profile carries role
func (p *Profile) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsOperator reports whether the user may issue alerts
func IsOperator(roles []string) bool {
	for _, r := range roles {
		if r == RoleAdmin || r == RoleDeveloper {
			return true
		}
	}
	return false
}
