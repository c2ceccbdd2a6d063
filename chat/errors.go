package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNicknameTaken is returned by Registry.Register when the nickname is in use.
	ErrNicknameTaken = errors.New("chat: nickname already taken")

	// ErrNicknameInvalid is matched by every *NicknameError.
	ErrNicknameInvalid = errors.New("chat: invalid nickname")

	// ErrPeerClosed is returned by Peer.Send once the peer is closed or its connection failed.
	ErrPeerClosed = errors.New("chat: peer closed")

	// ErrOutboxFull is returned by Peer.Send when the receiver does not keep up.
	ErrOutboxFull = errors.New("chat: peer outbox full")

	// ErrNotMember is returned by Registry.Relay when the sender no longer holds its nickname.
	ErrNotMember = errors.New("chat: not a member")
)

// NicknameError describes why a nickname was refused.
type NicknameError struct {
	Nickname string
	Reason   string
}

func (e *NicknameError) Error() string {
	return fmt.Sprintf("invalid nickname %q: %s", e.Nickname, e.Reason)
}

// Unwrap makes errors.Is(err, ErrNicknameInvalid) hold.
func (e *NicknameError) Unwrap() error {
	return ErrNicknameInvalid
}
