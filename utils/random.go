package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// NewSessionID returns a 32-char random hex identifier for a session
// record. crypto/rand keeps IDs unguessable so a caller cannot probe
// other participants' sessions.
func NewSessionID() string {
	byt := make([]byte, 16)
	if _, err := rand.Read(byt); err != nil {
		// crypto/rand failing means the process is in no state to
		// serve anything.
		panic(err)
	}
	return hex.EncodeToString(byt)
}

// GenerateCode returns an uppercase hex code of n random bytes, used for
// operator-facing reference codes (merge reports, audit lines).
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}
