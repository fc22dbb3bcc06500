package object

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatSignature renders a Signature in the git-compatible wire form
// "Name <email> unix tz".
func FormatSignature(s Signature) string {
	tz := s.TZ
	if tz == "" {
		tz = "+0000"
	}
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When, tz)
}

// ParseSignature parses the wire form produced by FormatSignature.
func ParseSignature(s string) (Signature, error) {
	open := strings.LastIndex(s, "<")
	end := strings.LastIndex(s, ">")
	if open < 0 || end < open {
		return Signature{}, fmt.Errorf("signature %q: missing <email>", s)
	}

	name := strings.TrimSpace(s[:open])
	email := s[open+1 : end]

	rest := strings.Fields(s[end+1:])
	if len(rest) != 2 {
		return Signature{}, fmt.Errorf("signature %q: want unix timestamp and tz after email", s)
	}
	when, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("signature %q: bad timestamp %q: %w", s, rest[0], err)
	}

	return Signature{Name: name, Email: email, When: when, TZ: rest[1]}, nil
}

// CommitSigningPayload returns the canonical bytes that are signed for a
// commit. The payload intentionally excludes the signature field itself.
func CommitSigningPayload(c *CommitObj) []byte {
	if c == nil {
		return nil
	}
	copyCommit := *c
	copyCommit.Signature = ""
	return MarshalCommit(&copyCommit)
}
