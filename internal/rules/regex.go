package rules

import (
	"regexp"
	"sync"
)

type regexStore struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

var regexCache = &regexStore{cache: make(map[string]*regexp.Regexp)}

// Get 编译并缓存正则
func (s *regexStore) Get(pattern string) (*regexp.Regexp, error) {
	s.mu.RLock()
	re, ok := s.cache[pattern]
	s.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[pattern] = re
	s.mu.Unlock()
	return re, nil
}

func matchRegex(s, pattern string) bool {
	re, err := regexCache.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
