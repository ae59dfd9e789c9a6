package model

import "time"

// User represents an account as stored in the `users` table.  The json
// tags are omitted because handlers expose only a summary (id and
// username); the hash never leaves the repository and handler layers.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Username     – unique login name.
//	Email        – unique email address, stored lower-cased.
//	PasswordHash – bcrypt hash of the password.
//	CreatedAt    – timestamp of registration.
type User struct {
	ID           uint64    // users.id
	Username     string    // users.username
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	CreatedAt    time.Time // users.created_at
}

// UserSummary is the public view of a user embedded in login responses
// and in every message as its sender.
type UserSummary struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}

// Summary returns the public view of u.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username}
}
