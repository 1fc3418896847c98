package textutil

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

const maxIDLength = 64

var (
	unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// SanitizeID converts a feed GUID or URL into a filesystem-safe entry id.
// URLs are reduced to their last path segment without the query string.
// The result keeps only letters, digits, hyphens and underscores and is at
// most 64 bytes long. It may be empty.
func SanitizeID(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http") {
		if idx := strings.LastIndexByte(raw, '/'); idx >= 0 {
			raw = raw[idx+1:]
		}
		if idx := strings.IndexByte(raw, '?'); idx >= 0 {
			raw = raw[:idx]
		}
	}
	id := unsafeIDChars.ReplaceAllString(raw, "_")
	id = underscoreRun.ReplaceAllString(id, "_")
	id = strings.Trim(id, "_")
	if len(id) > maxIDLength {
		id = id[:maxIDLength]
	}
	return id
}

// ShortHash returns the first n hex characters of the MD5 digest of value.
func ShortHash(value string, n int) string {
	sum := md5.Sum([]byte(value))
	encoded := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(encoded) {
		return encoded
	}
	return encoded[:n]
}
