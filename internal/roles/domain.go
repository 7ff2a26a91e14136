// Package roles manages the named principal groups that permissions
// are granted to.
package roles

import "time"

// Role is a named group of principals. Principals gain every
// permission granted to their roles.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
