package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles recognised by the API. Officers may decide approval gates and submit.
const (
	RoleMember  = "member"
	RoleOfficer = "officer"
	RoleAdmin   = "admin"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
