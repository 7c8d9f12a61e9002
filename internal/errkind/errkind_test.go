// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(Fatal, nil))
}

func TestKindOfRoundTrips(t *testing.T) {
	err := Wrap(Permanent, errors.New("bad payload"))
	assert.Equal(t, Permanent, KindOf(err))
	assert.False(t, IsFatal(err))
}

func TestKindOfDefaultsToTransient(t *testing.T) {
	plain := errors.New("connection refused")
	assert.Equal(t, Transient, KindOf(plain))
	assert.False(t, IsFatal(plain))
}

func TestIsFatal(t *testing.T) {
	err := Wrapf(Fatal, "port %d in use", 8754)
	assert.True(t, IsFatal(err))
	assert.Equal(t, "fatal: port 8754 in use", err.Error())
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("dial tcp: timeout")
	err := Wrap(Transient, inner)
	assert.True(t, errors.Is(err, inner))
}

func TestStringer(t *testing.T) {
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "permanent", Permanent.String())
	assert.Equal(t, "fatal", Fatal.String())
	assert.Equal(t, "unknown", fmt.Sprintf("%s", Kind(99)))
}
