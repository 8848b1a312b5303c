package cache

import "fmt"

// Key builds the stable string identifying a (bucket, key, range) triple.
// Two requests produce the same key iff their (bucket, key, range) triple
// matches; Accept and Accept-Encoding are recognized elsewhere but never
// vary the key. A present rangeHeader participates in the key so a
// range-carrying request can never collide with the whole-object entry,
// even though the fetch pipeline never actually admits ranged requests
// into the cache.
func Key(bucket, key, rangeHeader string) string {
	if rangeHeader == "" {
		return fmt.Sprintf("%s/%s", bucket, key)
	}
	return fmt.Sprintf("%s/%s#%s", bucket, key, rangeHeader)
}
