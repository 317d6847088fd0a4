// Package cache provides the read-through store used by the resolver. The
// backend is an interface so a remote store can be swapped in; failures of
// the backend degrade to a forced miss, never to a request failure.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Entry is one cached field-group payload. Replacement is atomic per
// fingerprint; entries are never partially updated.
type Entry struct {
	Fingerprint string
	Provider    string
	Endpoint    string
	Fields      map[string]interface{}
	AsOf        time.Time
	FetchedAt   time.Time
	TTL         time.Duration
}

// FreshAt reports whether the entry may still be served at the given time.
// FetchedAt + TTL is the sole staleness boundary.
func (e Entry) FreshAt(now time.Time) bool {
	return !now.After(e.FetchedAt.Add(e.TTL))
}

// Backend is the cache store contract. Get returns ok=false on a miss.
// Implementations may be remote and fallible.
type Backend interface {
	Get(ctx context.Context, fingerprint string) (Entry, bool, error)
	Set(ctx context.Context, entry Entry) error
}

// Fingerprint derives the deterministic cache key for a field-group fetch.
// Format: tool:group:SYMBOL:hash8 where hash8 covers all normalized
// parameters. The symbol segment is omitted when no symbol parameter is
// present.
func Fingerprint(tool, group string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "%s=%s", k, params[k])
	}
	sum := md5.Sum([]byte(b.String()))
	hash8 := hex.EncodeToString(sum[:])[:8]

	if symbol := params["symbol"]; symbol != "" {
		return fmt.Sprintf("%s:%s:%s:%s", tool, group, strings.ToUpper(symbol), hash8)
	}
	return fmt.Sprintf("%s:%s:%s", tool, group, hash8)
}
