// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package tailer

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Matcher holds the keyword regex derived from the configured keyword
// set, rebuilt atomically whenever keywords change (spec.md §4.1/§4.8:
// "error-keyword set (regex is rebuilt atomically)").
type Matcher struct {
	mu  sync.RWMutex
	re  *regexp.Regexp
}

// NewMatcher builds a Matcher from the initial keyword set.
func NewMatcher(keywords []string) (*Matcher, error) {
	m := &Matcher{}
	if err := m.Update(keywords); err != nil {
		return nil, err
	}
	return m, nil
}

// Update rebuilds the regex from a new keyword set. Safe to call
// concurrently with MatchString (short exclusive section only).
func (m *Matcher) Update(keywords []string) error {
	re, err := compileKeywords(keywords)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.re = re
	m.mu.Unlock()
	return nil
}

// MatchString reports whether line contains any keyword at a word
// boundary, case-insensitively (spec.md §4.1).
func (m *Matcher) MatchString(line string) bool {
	m.mu.RLock()
	re := m.re
	m.mu.RUnlock()
	if re == nil {
		return false
	}
	return re.MatchString(line)
}

func compileKeywords(keywords []string) (*regexp.Regexp, error) {
	if len(keywords) == 0 {
		return regexp.Compile(`a^`) // matches nothing
	}
	escaped := make([]string, len(keywords))
	for i, k := range keywords {
		escaped[i] = regexp.QuoteMeta(k)
	}
	pattern := fmt.Sprintf(`(?i)\b(%s)\b`, strings.Join(escaped, "|"))
	return regexp.Compile(pattern)
}
