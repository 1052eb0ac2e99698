package notesync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Fields is the fingerprint input: the semantic fields shared by local
// entities and normalized remote items. Volatile fields (timestamps, UI-only
// flags) never appear here, so touching a record without changing it does not
// generate sync traffic.
type Fields struct {
	Title       string
	Description string
	Location    string
	StartTime   *time.Time
	EndTime     *time.Time
	Completed   bool
}

// Fingerprint returns a deterministic digest over the semantic fields.
// The rendering is field-order-stable and quotes every value, so identical
// content always hashes identically regardless of how the struct was built.
// A nil time and a missing time normalize to the same empty value.
func Fingerprint(f Fields) string {
	var b strings.Builder
	fmt.Fprintf(&b, "title=%q\n", f.Title)
	fmt.Fprintf(&b, "description=%q\n", f.Description)
	fmt.Fprintf(&b, "location=%q\n", f.Location)
	fmt.Fprintf(&b, "start=%q\n", normalizeTime(f.StartTime))
	fmt.Fprintf(&b, "end=%q\n", normalizeTime(f.EndTime))
	fmt.Fprintf(&b, "completed=%t\n", f.Completed)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// normalizeTime renders a time in UTC so wall-clock-equal instants in
// different zones fingerprint identically.
func normalizeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
