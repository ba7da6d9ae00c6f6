// Package role defines the sender roles of a relayed conversation.
package role

// Role identifies who authored a message in a transcript.
type Role string

const (
	System    Role = "system"
	User      Role = "user"
	Assistant Role = "assistant"
)

// Valid reports whether r is one of the roles a transcript may carry.
func (r Role) Valid() bool {
	switch r {
	case System, User, Assistant:
		return true
	}
	return false
}

// String returns the wire name of the role, as sent to the completion API.
func (r Role) String() string {
	return string(r)
}
