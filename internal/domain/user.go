package domain

import (
	"strings"
	"time"
)

// User is the account record managed through the admin site.
type User struct {
	ID           int64
	Email        string
	UserName     string
	FirstName    string
	About        string
	PasswordHash string
	IsActive     bool
	IsStaff      bool
	StartDate    time.Time
	UpdatedAt    time.Time
}

// UserFilter is an exact-match constraint on a single user column.
type UserFilter struct {
	Field string
	Value any
}

// UserQuery narrows and orders a user listing.
//
// Terms are matched case-insensitively as substrings: each term must hit at
// least one of SearchFields. Ordering entries are field names with an
// optional leading "-" for descending order.
type UserQuery struct {
	Terms        []string
	SearchFields []string
	Filters      []UserFilter
	Ordering     []string
	Limit        int
	Offset       int
}

// NormalizeEmail lowercases the domain part of an address and trims
// surrounding whitespace. The local part is left untouched.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}
