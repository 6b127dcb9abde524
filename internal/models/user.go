package models

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// Principal is the caller identity taken from the supabase JWT.
type Principal struct {
	UserID string   `json:"user_id"` // uuid, the token subject
	Role   UserRole `json:"role"`
}
