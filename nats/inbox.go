package nats

import (
	"strings"

	"github.com/google/uuid"
)

// InboxPrefix starts every generated reply subject.
const InboxPrefix = "_INBOX."

// NewInbox returns a reply subject that no other live inbox shares.
func NewInbox() string {
	return InboxPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
