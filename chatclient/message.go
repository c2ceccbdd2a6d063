package chatclient

import (
	"strings"
	"time"
)

// Kind classifies a line received from the server.
type Kind int

const (
	KindNotice Kind = iota // anything not recognized below
	KindChat               // "[HH:MM:SS] nick: text"
	KindJoined             // "nick joined the chat!"
	KindLeft               // "nick left the chat!"
)

const (
	joinedSuffix = " joined the chat!"
	leftSuffix   = " left the chat!"
)

// Message is one line received after joining.
type Message struct {
	Raw      string
	Kind     Kind
	Time     string // server timestamp of chat lines, HH:MM:SS
	Sender   string
	Text     string
	Received time.Time
}

// ParseLine classifies line. Lines that do not match a known shape are
// returned as KindNotice with Text set to the whole line.
func ParseLine(line string, received time.Time) Message {
	msg := Message{Raw: line, Kind: KindNotice, Text: line, Received: received}

	if rest, ok := strings.CutPrefix(line, "["); ok {
		stamp, body, ok := strings.Cut(rest, "] ")
		if !ok {
			return msg
		}
		sender, text, ok := strings.Cut(body, ": ")
		if !ok || sender == "" || strings.ContainsAny(sender, " ") {
			return msg
		}

		msg.Kind, msg.Time, msg.Sender, msg.Text = KindChat, stamp, sender, text
		return msg
	}

	for suffix, kind := range map[string]Kind{joinedSuffix: KindJoined, leftSuffix: KindLeft} {
		nick, ok := strings.CutSuffix(line, suffix)
		if ok && nick != "" && !strings.ContainsAny(nick, " ") {
			msg.Kind, msg.Sender, msg.Text = kind, nick, ""
			return msg
		}
	}

	return msg
}
