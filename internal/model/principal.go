package model

// Role is the RBAC role carried by a principal.
type Role string

const (
	RolePresident Role = "president"
	RoleBoss      Role = "boss"
	RoleWorker    Role = "worker"
)

// AuthMethod records which credential channel produced a principal.
type AuthMethod string

const (
	AuthToken  AuthMethod = "token"
	AuthAPIKey AuthMethod = "api-key"
)

// Principal is the resolved caller for one request. API-key principals carry
// no role. Never persisted.
type Principal struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role,omitempty"`
	AuthMethod AuthMethod `json:"authMethod"`
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePresident, RoleBoss, RoleWorker:
		return true
	}
	return false
}
