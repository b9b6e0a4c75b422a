// Package domain contains session values without transport or lifecycle logic.
package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	SessionIDLen   = 20
	sessionIDAlpha = "abcdefghijklmnopqrstuvwxyz"
)

var (
	ErrSessionIDLength   = errors.New("session id must be exactly 20 characters")
	ErrSessionIDAlphabet = errors.New("session id must contain only lowercase letters")
)

// SessionID names a participant in the directory. The host's id doubles as
// the room name guests dial.
type SessionID string

func (id SessionID) String() string { return string(id) }

// NewSessionID draws SessionIDLen letters from crypto/rand.
// Bytes >= 234 are rejected so every letter is equally likely.
func NewSessionID() (SessionID, error) {
	const limit = 256 - 256%len(sessionIDAlpha)
	out := make([]byte, 0, SessionIDLen)
	buf := make([]byte, SessionIDLen*2)
	for len(out) < SessionIDLen {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, sessionIDAlpha[int(b)%len(sessionIDAlpha)])
			if len(out) == SessionIDLen {
				break
			}
		}
	}
	return SessionID(out), nil
}

// ParseSessionID validates s as an identifier produced by NewSessionID.
func ParseSessionID(s string) (SessionID, error) {
	if len(s) != SessionIDLen {
		return "", ErrSessionIDLength
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return "", ErrSessionIDAlphabet
		}
	}
	return SessionID(s), nil
}
