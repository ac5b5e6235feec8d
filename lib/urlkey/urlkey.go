package urlkey

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// normalization rules shared by every cache tier, so that two spellings of
// the same resource always land on the same key
const normalizeFlags = purell.FlagsSafe |
	purell.FlagRemoveFragment |
	purell.FlagRemoveTrailingSlash |
	purell.FlagSortQuery

// Normalize canonicalizes a URL: lowercased scheme/host, sorted query
// parameters, no fragment, no trailing slash.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return purell.NormalizeURL(u, normalizeFlags), nil
}

// ForURL derives a filesystem-safe cache key from a URL. The slug keeps keys
// readable on disk; the sha1 suffix keeps distinct URLs from colliding after
// the lossy slug transform.
func ForURL(raw string) (string, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum([]byte(normalized))
	return slug(normalized) + "-" + hex.EncodeToString(sum[:])[:10], nil
}

func slug(s string) string {
	var out strings.Builder
	lastDash := true
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			out.WriteRune(c)
			lastDash = false
		default:
			if !lastDash {
				out.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(out.String(), "-")
}
