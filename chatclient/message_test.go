package chatclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLine(t *testing.T) {
	now := time.Now()

	tests := []struct {
		line   string
		kind   Kind
		stamp  string
		sender string
		text   string
	}{
		{"[10:11:12] alice: hi there", KindChat, "10:11:12", "alice", "hi there"},
		{"[10:11:12] alice: a: b", KindChat, "10:11:12", "alice", "a: b"},
		{"[10:11:12] alice: bob left the chat!", KindChat, "10:11:12", "alice", "bob left the chat!"},
		{"bob joined the chat!", KindJoined, "", "bob", ""},
		{"bob left the chat!", KindLeft, "", "bob", ""},
		{"the server is going down", KindNotice, "", "", "the server is going down"},
		{"[broken", KindNotice, "", "", "[broken"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			msg := ParseLine(tt.line, now)
			assert.Equal(t, tt.line, msg.Raw)
			assert.Equal(t, tt.kind, msg.Kind)
			assert.Equal(t, tt.stamp, msg.Time)
			assert.Equal(t, tt.sender, msg.Sender)
			assert.Equal(t, tt.text, msg.Text)
			assert.Equal(t, now, msg.Received)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Handshaking", Handshaking.String())
	assert.Equal(t, "Joined", Joined.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Unknown", State(9).String())
}
