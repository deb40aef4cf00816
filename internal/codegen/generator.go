// Package codegen produces short, collision-resistant identifiers by
// encoding time-ordered snowflake IDs into a dense base-62 alphabet.
package codegen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/jxskiss/base62"
	"github.com/serroba/shortlink/internal/shortlink"
)

const (
	// MinCodeLength and MaxCodeLength bound the short code format.
	MinCodeLength = 6
	MaxCodeLength = 10

	// alphabet is the base62 digit set, matching base62.StdEncoding.
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// splitmix64 golden-gamma constant, used to scramble consecutive
	// snowflake IDs so generated codes are not adjacent.
	mixConstant = 0x9e3779b97f4a7c15
)

// reservedWords may not appear as a prefix of a custom code. They collide
// with (or are easily confused with) the service's own routes.
var reservedWords = []string{
	"health",
	"shorten",
	"metrics",
	"status",
	"admin",
	"assets",
	"api",
	"openapi",
	"docs",
	"schemas",
}

var validCodeChar = buildCharTable()

func buildCharTable() [256]bool {
	var table [256]bool
	for i := range len(alphabet) {
		table[alphabet[i]] = true
	}

	return table
}

// Generator produces fixed-length short code candidates. It holds no
// state between calls beyond the snowflake sequence; uniqueness is
// enforced by the durable store's constraint, and callers regenerate
// with a fresh candidate when an insert conflicts.
type Generator struct {
	node   *snowflake.Node
	length int
	space  int64 // 62^length, the number of representable codes
}

// New creates a Generator producing codes of the given length.
// nodeID distinguishes concurrent service instances so their snowflake
// sequences never overlap.
func New(nodeID int64, length int) (*Generator, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return nil, fmt.Errorf("code length %d out of range [%d, %d]", length, MinCodeLength, MaxCodeLength)
	}

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node: %w", err)
	}

	space := int64(1)
	for range length {
		space *= int64(len(alphabet))
	}

	return &Generator{
		node:   node,
		length: length,
		space:  space,
	}, nil
}

// NewCode derives a fixed-length candidate from a fresh snowflake ID,
// scrambled and reduced into the code space, then base62-encoded and
// left-padded to the configured length. Each call draws fresh entropy,
// so retrying after a store conflict yields a new candidate.
func (g *Generator) NewCode() string {
	id := uint64(g.node.Generate().Int64())
	mixed := int64((id * mixConstant) % uint64(g.space))

	return g.pad(base62.FormatInt(mixed))
}

// Length returns the configured code length.
func (g *Generator) Length() int {
	return g.length
}

func (g *Generator) pad(raw []byte) string {
	if len(raw) >= g.length {
		return string(raw)
	}

	padded := make([]byte, g.length)
	for i := range padded {
		padded[i] = alphabet[0]
	}

	copy(padded[g.length-len(raw):], raw)

	return string(padded)
}

// DecodeCode reverses the base-62 transform, returning the non-negative
// integer a generated code encodes.
func DecodeCode(code string) (int64, error) {
	n, err := base62.ParseInt([]byte(code))
	if err != nil {
		return 0, fmt.Errorf("decode code %q: %w", code, err)
	}

	return n, nil
}

// ValidateCustomCode checks a caller-supplied code against the short
// code format: length bounds, base-62 alphabet, and reserved words.
// Returns shortlink.ErrInvalidCode describing the first violation.
func ValidateCustomCode(code string) error {
	if len(code) < MinCodeLength || len(code) > MaxCodeLength {
		return fmt.Errorf("%w: length must be between %d and %d characters",
			shortlink.ErrInvalidCode, MinCodeLength, MaxCodeLength)
	}

	for i := range len(code) {
		if !validCodeChar[code[i]] {
			return fmt.Errorf("%w: only letters and digits are allowed", shortlink.ErrInvalidCode)
		}
	}

	for _, word := range reservedWords {
		if hasFoldPrefix(code, word) {
			return fmt.Errorf("%w: %q is reserved", shortlink.ErrInvalidCode, word)
		}
	}

	return nil
}

// hasFoldPrefix reports whether s starts with prefix, ASCII case-insensitively.
func hasFoldPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}

	for i := range len(prefix) {
		a, b := s[i], prefix[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}

		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}

		if a != b {
			return false
		}
	}

	return true
}
