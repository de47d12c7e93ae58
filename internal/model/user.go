// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a persisted account. Identity (the email) is the primary key for
// every lookup; it is created on first login and never deleted.
//
// DisplayName is overwritten on each login, so it always reflects the name
// the user last signed in with.
type User struct {
	Identity    string    `json:"identity"    db:"identity"`
	DisplayName string    `json:"displayName" db:"display_name"`
	CreatedAt   time.Time `json:"createdAt"   db:"-"`
	UpdatedAt   time.Time `json:"updatedAt"   db:"-"`
}
