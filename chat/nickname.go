package chat

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cyberinferno/go-chat/safeset"
)

// Characters that carry meaning in rendered chat lines.
const nicknameDelimiters = ":[]"

// NicknamePolicy validates candidate nicknames. Malformed names are rejected,
// never rewritten.
type NicknamePolicy struct {
	maxLength int
	reserved  *safeset.SafeSet[string]
}

// NewNicknamePolicy creates a policy allowing up to maxLength runes and refusing
// the reserved names, compared case-insensitively.
func NewNicknamePolicy(maxLength int, reserved []string) *NicknamePolicy {
	p := &NicknamePolicy{
		maxLength: maxLength,
		reserved:  safeset.NewSafeSet[string](),
	}
	p.Reserve(QuitCommand)
	for _, name := range reserved {
		p.Reserve(name)
	}

	return p
}

// Reserve adds name to the refused names.
func (p *NicknamePolicy) Reserve(name string) {
	p.reserved.Add(strings.ToLower(name))
}

// Validate returns a *NicknameError when nickname cannot be used.
func (p *NicknamePolicy) Validate(nickname string) error {
	reject := func(reason string) error {
		return &NicknameError{Nickname: nickname, Reason: reason}
	}

	if nickname == "" {
		return reject("must not be empty")
	}
	if !utf8.ValidString(nickname) {
		return reject("must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(nickname); n > p.maxLength {
		return reject("must be at most " + strconv.Itoa(p.maxLength) + " characters")
	}
	for _, r := range nickname {
		switch {
		case unicode.IsSpace(r):
			return reject("must not contain spaces")
		case unicode.IsControl(r):
			return reject("must not contain control characters")
		case strings.ContainsRune(nicknameDelimiters, r):
			return reject("must not contain any of " + nicknameDelimiters)
		}
	}
	if p.reserved.Contains(strings.ToLower(nickname)) {
		return reject("is reserved")
	}

	return nil
}
