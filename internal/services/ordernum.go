package services

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// newOrderNumber builds a sortable external order reference:
// ORD + yyyymmddhhmmss (UTC) + ULID.
func newOrderNumber(now time.Time) string {
	return "ORD" + now.UTC().Format("20060102150405") + ulid.Make().String()
}
