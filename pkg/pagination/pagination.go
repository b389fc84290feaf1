// Package pagination implements keyset pagination over (created_at, id).
// Offset paging drifts when rows are inserted between requests, so listings
// hand the client an opaque cursor naming the last row they saw instead.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLimit applies when the caller does not ask for a page size.
	DefaultLimit = 25
	// MaxLimit is the hard ceiling on a single page.
	MaxLimit = 100
)

// Params carries the page size and opaque cursor from a listing request.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor names the last row of the previous page. The id breaks ties
// between rows created in the same instant.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Clamp folds a requested page size into [1, MaxLimit], substituting
// DefaultLimit for zero and negatives.
func Clamp(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// FetchSize is the clamped limit plus one sentinel row. Repositories query
// one row past the page to learn whether a next cursor is needed.
func FetchSize(limit int) int {
	return Clamp(limit) + 1
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor inverts Encode. An empty token means the first page and
// yields a nil cursor without error.
func DecodeCursor(token string) (*Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, fmt.Errorf("malformed cursor")
	}

	createdAt, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, fmt.Errorf("cursor timestamp: %w", err)
	}
	rowID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("cursor id: %w", err)
	}
	return &Cursor{CreatedAt: createdAt, ID: rowID}, nil
}
