// Package idgen implements content-addressed ID generation and hierarchical
// ID parsing for elements.
//
// Element IDs have a prefix-suffix format: "el-a3f8e9". Hierarchical child
// IDs use dot notation: "el-a3f8e9.1", "el-a3f8e9.1.2".
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/elemental-run/elemental/internal/errs"
)

const (
	// MinLength is the minimum number of base36 characters in a generated ID.
	MinLength = 3
	// MaxLength is the maximum number of base36 characters in a generated ID.
	MaxLength = 8
	// MaxNonce is the number of nonces tried at a given length before the
	// length is escalated.
	MaxNonce = 10
	// DefaultPrefix is used when no prefix is configured for the store.
	DefaultPrefix = "el-"
	// DefaultMaxHierarchyDepth caps dot-notation nesting (el-x.1.2.3 = depth 3).
	DefaultMaxHierarchyDepth = 3
)

// GenerateHashID computes a deterministic, content-addressed ID.
//
// The algorithm:
//  1. Build content string from identifier, creator, timestamp, nonce.
//  2. Compute SHA-256 of the content string.
//  3. Take the first ceil(length*5/8) bytes of the digest.
//  4. Interpret as a big-endian integer, mod 36^length.
//  5. Encode as base36, zero-padded to exactly `length` characters.
func GenerateHashID(prefix, identifier, createdBy string, timestamp time.Time, length, nonce int) string {
	content := fmt.Sprintf("%s|%s|%d|%d", identifier, createdBy, timestamp.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))

	numBytes := (length*5 + 7) / 8
	if numBytes > len(hash) {
		numBytes = len(hash)
	}

	n := new(big.Int).SetBytes(hash[:numBytes])

	mod := new(big.Int).Exp(big.NewInt(36), big.NewInt(int64(length)), nil)
	n.Mod(n, mod)

	encoded := n.Text(36)
	for len(encoded) < length {
		encoded = "0" + encoded
	}

	return prefix + encoded
}

// adaptiveLengthThresholds maps an element count to the ID length that
// takes over at that count: below 100 elements, length stays at
// MinLength; at 100, MinLength+1; at 500, MinLength+2; at 3000,
// MinLength+3; at 20000, MinLength+4; at 100000, MaxLength.
var adaptiveLengthThresholds = []struct {
	count  int
	length int
}{
	{100, MinLength + 1},
	{500, MinLength + 2},
	{3000, MinLength + 3},
	{20000, MinLength + 4},
	{100000, MaxLength},
}

// AdaptiveLength returns the ID length to use given existingCount elements
// already stored, advancing across the element-count thresholds 100, 500,
// 3000, 20000, and 100000.
func AdaptiveLength(existingCount int) int {
	length := MinLength
	for _, t := range adaptiveLengthThresholds {
		if existingCount >= t.count {
			length = t.length
		}
	}
	return length
}

// Generator produces unique element IDs, retrying nonces and escalating
// length on collision. Exists checks candidate IDs against live storage.
type Generator struct {
	Prefix string
	Exists func(candidate string) (bool, error)
}

// New returns a Generator with the given collision checker.
func New(prefix string, exists func(string) (bool, error)) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Generator{Prefix: prefix, Exists: exists}
}

// Next generates a unique ID for the given logical identifier (typically a
// title or name) and creator, scaling the starting length to existingCount.
func (g *Generator) Next(identifier, createdBy string, createdAt time.Time, existingCount int) (string, error) {
	baseLength := AdaptiveLength(existingCount)
	if baseLength > MaxLength {
		baseLength = MaxLength
	}

	for length := baseLength; length <= MaxLength; length++ {
		for nonce := 0; nonce < MaxNonce; nonce++ {
			candidate := GenerateHashID(g.Prefix, identifier, createdBy, createdAt, length, nonce)
			exists, err := g.Exists(candidate)
			if err != nil {
				return "", errs.Storage(err, "check id collision")
			}
			if !exists {
				return candidate, nil
			}
		}
	}

	return "", errs.Newf(errs.CodeInternal,
		"failed to generate unique id after trying lengths %d-%d with %d nonces each", baseLength, MaxLength, MaxNonce)
}

// --- Hierarchical ID parsing ---

// IsHierarchicalID reports whether id is a hierarchical child ID: it
// contains a dot, and the suffix after the last dot is purely numeric.
// "my.project-abc" is not hierarchical; "el-a3f8.1" is.
func IsHierarchicalID(id string) bool {
	dot := strings.LastIndex(id, ".")
	if dot < 0 || dot == len(id)-1 {
		return false
	}
	for _, r := range id[dot+1:] {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// HierarchyDepth returns the nesting depth of an ID by counting dots. A
// root ID has depth 0; "el-a3f8.1" has depth 1, "el-a3f8.1.2" has depth 2.
func HierarchyDepth(id string) int {
	return strings.Count(id, ".")
}

// ChildID composes the ID of the nth child of parentID.
func ChildID(parentID string, childNum int) string {
	return fmt.Sprintf("%s.%d", parentID, childNum)
}

// ParseHierarchicalID splits a hierarchical ID into its immediate parent
// and child number, e.g. "el-a3f8.2" -> ("el-a3f8", 2, true).
func ParseHierarchicalID(id string) (parentID string, childNum int, ok bool) {
	if !IsHierarchicalID(id) {
		return "", 0, false
	}
	dot := strings.LastIndex(id, ".")
	parentID = id[:dot]
	childNum, _ = strconv.Atoi(id[dot+1:])
	return parentID, childNum, true
}

// RootID returns the top-level ancestor of a (possibly hierarchical) ID.
func RootID(id string) string {
	dot := strings.Index(id, ".")
	if dot < 0 {
		return id
	}
	return id[:dot]
}

// CheckHierarchyDepth verifies that adding a child to parentID would not
// exceed maxDepth. A parent already at maxDepth is rejected with
// CodeMaxDepthExceeded.
func CheckHierarchyDepth(parentID string, maxDepth int) error {
	depth := HierarchyDepth(parentID)
	if depth >= maxDepth {
		return errs.MaxDepthExceeded(parentID, depth)
	}
	return nil
}
