// Package protocol pins the wire protocol version and the error codes
// both sides agree on.
package protocol

import "strings"

// Version is bumped on any incompatible wire change. Clients and servers
// must share a major version to talk.
const Version = "1.0.0"

// Error codes carried by JoinRejected and ErrorMessage.
const (
	ErrCodeVersionMismatch = 1
	ErrCodeServerFull      = 2
	ErrCodeBadToken        = 3
	ErrCodeMalformed       = 4
	ErrCodeUnknownEntity   = 5
	ErrCodeInputFlood      = 6
)

// Compatible reports whether two version strings share a major version.
func Compatible(a, b string) bool {
	return major(a) == major(b) && major(a) != ""
}

func major(v string) string {
	i := strings.IndexByte(v, '.')
	if i < 0 {
		return ""
	}
	return v[:i]
}
