package enums

import (
	"fmt"
	"strings"
)

// Role is the caller role supplied by the identity collaborator.
type Role string

const (
	RoleAdmin         Role = "ADMIN"
	RoleBaseCommander Role = "BASE_COMMANDER"
	RoleLogistics     Role = "LOGISTICS"
)

var validRoles = []Role{
	RoleAdmin,
	RoleBaseCommander,
	RoleLogistics,
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// RequiresHomeBase reports whether callers with this role must carry a home base.
func (r Role) RequiresHomeBase() bool {
	return r == RoleBaseCommander || r == RoleLogistics
}

// ParseRole converts raw header input into a Role.
func ParseRole(value string) (Role, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
