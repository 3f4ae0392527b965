// Package syncx holds the journal paging cursor shared by the store
// and the HTTP API.
package syncx

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Cursor is an opaque position in the run journal: the start time in
// unix milliseconds, with the run id breaking ties between runs that
// started in the same millisecond. The zero value means the newest
// page.
type Cursor struct {
	Ms  int64
	UID uuid.UUID
}

// EncodeCursor renders c for the wire. The zero cursor encodes to ""
// so a final page simply omits nextCursor.
func EncodeCursor(c Cursor) string {
	if c.Ms == 0 && c.UID == uuid.Nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(fmt.Appendf(nil, "%d|%s", c.Ms, c.UID))
}

// DecodeCursor parses an encoded cursor. ok is false for empty or
// malformed input; callers treat both as the newest page.
func DecodeCursor(s string) (Cursor, bool) {
	if s == "" {
		return Cursor{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, false
	}
	msPart, uidPart, found := strings.Cut(string(raw), "|")
	if !found {
		return Cursor{}, false
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return Cursor{}, false
	}
	uid, err := uuid.Parse(uidPart)
	if err != nil {
		return Cursor{}, false
	}
	return Cursor{Ms: ms, UID: uid}, true
}
