package restaurants

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
)

const (
	pointKeyPrefix = "restaurant:"
	listKeyPrefix  = "restaurants:"

	// listGenerationKey holds the token embedded in list keys when list
	// invalidation is enabled.
	listGenerationKey = "restaurants:listgen"

	// maxKeyLength is the memcached key limit.
	maxKeyLength = 250
)

// pointKey returns the cache key of a single restaurant.
func pointKey(name string) string {
	return boundKey(pointKeyPrefix, url.QueryEscape(name))
}

// listKey returns the cache key of a normalized list query. Every field of
// the query takes part in the key, so distinct parameterizations never share
// an entry. A non-empty generation scopes the key to that generation.
func listKey(q ListQuery, generation string) string {
	var b strings.Builder
	if generation != "" {
		b.WriteString("g=")
		b.WriteString(url.QueryEscape(generation))
		b.WriteByte(':')
	}
	b.WriteString(string(q.Kind))
	switch q.Kind {
	case FilterCuisine:
		b.WriteString(":c=")
		b.WriteString(url.QueryEscape(q.Cuisine))
	case FilterRegion:
		b.WriteString(":r=")
		b.WriteString(url.QueryEscape(q.Region))
	case FilterRegionCuisine:
		b.WriteString(":r=")
		b.WriteString(url.QueryEscape(q.Region))
		b.WriteString(":c=")
		b.WriteString(url.QueryEscape(q.Cuisine))
	}
	b.WriteString(":l=")
	b.WriteString(strconv.Itoa(q.Limit))
	b.WriteString(":m=")
	b.WriteString(strconv.FormatFloat(q.MinRating, 'g', -1, 64))
	return boundKey(listKeyPrefix, b.String())
}

// boundKey joins prefix and body, hashing the body when the result would not
// fit in a memcached key. Escaped bodies never contain '#', so hashed and
// plain keys cannot collide.
func boundKey(prefix, body string) string {
	if len(prefix)+len(body) <= maxKeyLength {
		return prefix + body
	}
	sum := sha256.Sum256([]byte(body))
	return prefix + "#" + hex.EncodeToString(sum[:])
}
