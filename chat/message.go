package chat

import (
	"fmt"
	"strings"
	"time"
)

// Wire protocol vocabulary.
const (
	QuitCommand   = "QUIT"
	SuccessPrefix = "SUCCESS: "
	ErrorPrefix   = "ERROR: "
	TimeLayout    = "15:04:05"
)

// Message is one chat line from a member. It only lives for the duration of a broadcast.
type Message struct {
	Time   time.Time
	Sender string
	Text   string
}

// String renders the message as sent to the other members.
func (m Message) String() string {
	return fmt.Sprintf("[%s] %s: %s", m.Time.Format(TimeLayout), m.Sender, m.Text)
}

// JoinedNotice is broadcast to the other members when nickname joins.
func JoinedNotice(nickname string) string {
	return nickname + " joined the chat!"
}

// LeftNotice is broadcast to the remaining members when nickname leaves.
func LeftNotice(nickname string) string {
	return nickname + " left the chat!"
}

// IsQuit reports whether line is the quit command. Case and surrounding
// whitespace are ignored.
func IsQuit(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), QuitCommand)
}

func successReply(text string) string {
	return SuccessPrefix + text
}

func errorReply(text string) string {
	return ErrorPrefix + text
}
