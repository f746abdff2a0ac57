package auth

import "time"

// UserID identifies a user. The empty string is reserved for the builtin
// owner of visuals shipped with the product.
type UserID string

// BuiltinOwner owns visuals defined in code at process start.
const BuiltinOwner UserID = ""

// IsBuiltin reports whether the ID denotes the builtin owner.
func (u UserID) IsBuiltin() bool { return u == BuiltinOwner }

// User represents a human account able to own and share visuals.
type User struct {
	ID            UserID
	Email         string
	PasswordHash  string
	Status        string
	Roles         []string
	ContactGroups []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)
