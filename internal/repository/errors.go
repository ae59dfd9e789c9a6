// Package repository defines error types that are reused across the user
// and message repositories. These sentinel values allow higher layers such
// as handlers to distinguish between different failure scenarios without
// inspecting driver errors.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a looked-up row does not exist.
// Handlers translate it per endpoint (login hides it entirely).
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert hits a unique index.
var ErrDuplicate = errors.New("duplicate identifier")

// mysqlDupEntry is the server error number for a unique key violation.
const mysqlDupEntry = 1062

// DuplicateError names the field whose unique index rejected an insert.
// It matches ErrDuplicate with errors.Is.
type DuplicateError struct {
	Field string // "username", "email" or "" when the key is unknown
}

func (e *DuplicateError) Error() string {
	if e.Field == "" {
		return ErrDuplicate.Error()
	}
	return e.Field + " already exists"
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// asDuplicate converts a MySQL 1062 error into a *DuplicateError.  The key
// name in the server message tells which unique index fired.
func asDuplicate(err error) (*DuplicateError, bool) {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlDupEntry {
		return nil, false
	}
	msg := strings.ToLower(me.Message)
	switch {
	case strings.Contains(msg, "uq_users_username"):
		return &DuplicateError{Field: "username"}, true
	case strings.Contains(msg, "uq_users_email"):
		return &DuplicateError{Field: "email"}, true
	}
	return &DuplicateError{}, true
}
