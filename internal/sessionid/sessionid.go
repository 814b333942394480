// Package sessionid generates identifiers for game sessions. An id is a
// UUIDv7 rendered as 26 lowercase characters of Crockford's base32, so ids
// sort by creation time.
package sessionid

import (
	"encoding/base32"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// alphabet is Crockford's base32 in lower case.
const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

var encoding = base32.NewEncoding(alphabet).WithPadding(base32.NoPadding)

// Generator produces session ids, optionally from a fixed entropy source.
type Generator struct {
	entropy io.Reader
}

// NewGenerator creates a generator. A nil entropy reader uses crypto/rand.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new session id using crypto/rand.
func Generate() string {
	return NewGenerator(nil).Generate()
}

// Generate creates a new session id. It panics only if the entropy source
// fails, which crypto/rand does not.
func (g *Generator) Generate() string {
	var (
		id  uuid.UUID
		err error
	)
	if g.entropy != nil {
		id, err = uuid.NewV7FromReader(g.entropy)
	} else {
		id, err = uuid.NewV7()
	}
	if err != nil {
		panic("failed to generate session id: " + err.Error())
	}
	return Encode(id)
}

// Encode renders a UUID in the session id alphabet.
func Encode(id uuid.UUID) string {
	return encoding.EncodeToString(id[:])
}

// Validate checks that id is the encoding of a UUIDv7: 26 characters of the
// alphabet that decode to a version 7, RFC 4122 variant UUID.
func Validate(id string) error {
	if len(id) != 26 {
		return fmt.Errorf("session id must be exactly 26 characters, got %d", len(id))
	}

	for i, char := range id {
		if !strings.ContainsRune(alphabet, char) {
			return fmt.Errorf("invalid character %c at position %d", char, i)
		}
	}

	// 128 bits fill 25 characters and the top three bits of the last one.
	if strings.IndexByte(alphabet, id[25])%4 != 0 {
		return fmt.Errorf("session id has padding bits set in final character %c", id[25])
	}

	raw, err := encoding.DecodeString(id)
	if err != nil {
		return fmt.Errorf("decode session id: %w", err)
	}
	u, err := uuid.FromBytes(raw)
	if err != nil {
		return fmt.Errorf("decode session id: %w", err)
	}
	if u.Version() != 7 || u.Variant() != uuid.RFC4122 {
		return fmt.Errorf("session id is not a UUIDv7 (version %d, variant %s)", u.Version(), u.Variant())
	}

	return nil
}
