// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package tailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherWordBoundaryCaseInsensitive(t *testing.T) {
	m, err := NewMatcher([]string{"ERROR", "timeout"})
	require.NoError(t, err)

	assert.True(t, m.MatchString("connection Error occurred"))
	assert.True(t, m.MatchString("request timeout after 30s"))
	assert.False(t, m.MatchString("errorless success"), "errorless should not match the word-bounded keyword error")
	assert.False(t, m.MatchString("all systems nominal"))
}

func TestMatcherEmptyKeywordsMatchesNothing(t *testing.T) {
	m, err := NewMatcher(nil)
	require.NoError(t, err)
	assert.False(t, m.MatchString("error panic failure anything"))
}

func TestMatcherUpdateRebuildsAtomically(t *testing.T) {
	m, err := NewMatcher([]string{"foo"})
	require.NoError(t, err)
	assert.True(t, m.MatchString("a foo event"))
	assert.False(t, m.MatchString("a bar event"))

	require.NoError(t, m.Update([]string{"bar"}))
	assert.False(t, m.MatchString("a foo event"))
	assert.True(t, m.MatchString("a bar event"))
}

func TestMatcherQuotesRegexMetacharacters(t *testing.T) {
	m, err := NewMatcher([]string{"a.b*c"})
	require.NoError(t, err)
	assert.True(t, m.MatchString("saw a.b*c in the log"))
	assert.False(t, m.MatchString("saw axbyc in the log"))
}
