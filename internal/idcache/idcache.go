// Package idcache caches keyword-to-identity resolutions so repeated runs
// against the same account do not spend metadata API credits on search.
package idcache

import (
	"strconv"
	"time"
)

// DefaultTTL is how long a resolved identity stays usable. Accounts rarely
// change their platform username, so this is generous.
const DefaultTTL = 24 * time.Hour

// Entry is one cached resolution.
type Entry struct {
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (e Entry) expired() bool {
	return !e.ExpiresAt.IsZero() && time.Until(e.ExpiresAt) <= 0
}

// Cache stores resolved identities keyed by search keyword.
type Cache interface {
	Get(key string) (Entry, bool)
	Set(key string, value Entry)
}

// Key derives the cache key from the fields that influence resolution.
func Key(keyword string, page, userIndex int) string {
	return keyword + "|" + strconv.Itoa(page) + "|" + strconv.Itoa(userIndex)
}
