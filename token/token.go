// Package token handles party tokens and session identifiers.
//
// A party token names the game-server room a player is in. It is a short
// fixed-length code of upper-case letters and digits, or the FreeForAll
// sentinel when the player is not in a private room.
// Session identifiers are opaque random strings handed out by the party server.
package token

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	FreeForAll = "FFA"

	PartyTokenLength = 5

	// 10 random bytes encode to exactly 16 base32 characters without padding
	sessionIDBytes  = 10
	SessionIDLength = 16
)

var ErrorInvalidToken = errors.New("invalid party token")
var ErrorInvalidSessionID = errors.New("invalid session id")

var sessionEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ParseParty normalizes and validates a party token. An empty string maps to FreeForAll.
func ParseParty(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(s, "#")))
	if s == "" || s == FreeForAll {
		return FreeForAll, nil
	}
	if len(s) != PartyTokenLength {
		return "", ErrorInvalidToken
	}
	for _, c := range s {
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return "", ErrorInvalidToken
		}
	}
	return s, nil
}

// ParsePartyMustParse is ParseParty for constants and defaults.
func ParsePartyMustParse(s string) string {
	t, err := ParseParty(s)
	if err != nil {
		log.Fatalf("Failed to parse party token %q: %v", s, err)
	}
	return t
}

func IsFreeForAll(s string) bool {
	return s == FreeForAll
}

// NewSessionID generates a random session identifier.
func NewSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return sessionEncoding.EncodeToString(buf), nil
}

// ValidSessionID checks the shape of an identifier returned by NewSessionID.
func ValidSessionID(s string) error {
	if len(s) != SessionIDLength {
		return ErrorInvalidSessionID
	}
	if _, err := sessionEncoding.DecodeString(s); err != nil {
		return ErrorInvalidSessionID
	}
	return nil
}
