package broker

import (
	"fmt"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SanitizeURI parses a client-supplied document URI and strips its query and
// fragment. The remainder is what the storage layer is asked to serve.
func SanitizeURI(raw string) (*url.URL, error) {
	var u, err = url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing document URI: %w", err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// DocKey derives the canonical document key of a sanitized URI: the
// percent-decoded path component, without scheme, host, or a leading
// separator. Two requests with equal keys share one broker.
func DocKey(u *url.URL) string {
	return strings.TrimPrefix(u.Path, "/")
}

type resolvedKey struct {
	key string
	uri *url.URL
}

// KeyCache memoizes raw request URIs to their derived document keys.
// Clients poll tile URLs at high rates with identical paths, so the mapping
// is extremely hot.
type KeyCache struct {
	cache *lru.Cache[string, resolvedKey]
}

const keyCacheSize = 1024

func NewKeyCache() *KeyCache {
	var cache, err = lru.New[string, resolvedKey](keyCacheSize)
	if err != nil {
		panic(err) // Only fails for a non-positive size.
	}
	return &KeyCache{cache: cache}
}

// Resolve returns the document key and sanitized URI of a raw request URI.
func (kc *KeyCache) Resolve(raw string) (string, *url.URL, error) {
	if r, ok := kc.cache.Get(raw); ok {
		return r.key, r.uri, nil
	}

	var uri, err = SanitizeURI(raw)
	if err != nil {
		return "", nil, err
	}
	var key = DocKey(uri)
	kc.cache.Add(raw, resolvedKey{key: key, uri: uri})
	return key, uri, nil
}
