// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios. Outcome errors of the reservation state machine
// (not found, invalid state, expired, conflict) live in the model
// package because the in-memory store returns them as well.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrDuplicateCode is returned by reservation inserts when the
// generated code collides with an existing one.  Callers retry with a
// fresh code.
var ErrDuplicateCode = errors.New("reservation code already exists")

// ErrEmailExists is returned when an operator with the same email is
// already registered.
var ErrEmailExists = errors.New("email already exists")

// isDuplicateKey reports whether err is a MySQL unique-key violation.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
