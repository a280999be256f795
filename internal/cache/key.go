// Package cache provides a content-addressed store of prior request/result
// pairs with exact and near-duplicate lookup, expiry, and single-flight
// de-duplication of concurrent identical misses.
package cache

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Request identifies one cacheable external call. Two requests with the same
// normalized text, model, and temperature address the same entry.
type Request struct {
	// Text is the raw request text. It is normalized before hashing.
	Text string
	// Model is the model identifier the request targets.
	Model string
	// Temperature is the sampling temperature. Near-duplicate reuse is
	// only permitted at temperature zero, where the request is declared
	// deterministic.
	Temperature float64
}

// Deterministic reports whether the request may use near-duplicate reuse.
func (r Request) Deterministic() bool {
	return r.Temperature == 0
}

// Normalized returns the request text lowercased with whitespace collapsed.
func (r Request) Normalized() string {
	return Normalize(r.Text)
}

// Key returns the deterministic blake3 content address of the request.
func (r Request) Key() string {
	h := blake3.New()
	h.Write([]byte(r.Normalized()))
	h.Write([]byte{0})
	h.Write([]byte(r.Model))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%.4f", r.Temperature)
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize lowercases text and collapses all whitespace runs to single
// spaces, so formatting differences do not defeat exact matching.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
