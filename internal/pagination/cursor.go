// Package pagination implements keyset cursors for descending
// (created_at, id) listings, e.g. an entity's transaction history.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is the decoded position within a result set. Listings resume
// strictly after this row.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode packs a row key into an opaque cursor token.
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode unpacks a cursor token. An empty token means "start from the
// beginning" and decodes to nil without error.
func Decode(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	nanosStr, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, fmt.Errorf("invalid cursor")
	}
	nanos, err := strconv.ParseInt(nanosStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ComputePage trims a slice fetched with limit+1 rows down to the page
// and derives the next cursor from the final kept row. rowKey extracts
// the (createdAt, id) ordering key. The bool reports whether more rows
// remain.
func ComputePage[T any](items []T, limit int, rowKey func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := rowKey(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
