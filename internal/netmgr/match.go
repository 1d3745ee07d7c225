package netmgr

import (
	"regexp"
	"strings"
	"sync"
)

type regexCacheT struct {
	mu sync.Mutex
	m  map[string]*regexp.Regexp
}

var regexCache = regexCacheT{m: make(map[string]*regexp.Regexp)}

func (c *regexCacheT) get(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.m[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.m[pattern] = re
	return re, nil
}

func matchRegex(s, pattern string) bool {
	re, err := regexCache.get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}

// MatchURL reports whether a URL matches a pattern. Patterns support the
// simple prefix/suffix globs used by interception patterns; anything else is
// tried as a regular expression.
func MatchURL(u, pattern string) bool {
	if glob(u, pattern) {
		return true
	}
	if strings.ContainsAny(pattern, "\\^$[](){}+|") {
		return matchRegex(u, pattern)
	}
	return false
}
