// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package config

import (
	"encoding/json"
	"os"
)

// Secrets holds values loaded from a separate, restricted-permission
// file (spec.md §4.8: "secrets are never returned by any getter
// exposed to the control-API caller"). There is deliberately no method
// here that serializes the whole store; callers must name a key.
type Secrets struct {
	values map[string]string
}

// LoadSecrets reads path if present. A missing file is not an error
// (secrets are optional); a file with overly permissive mode is
// rejected, mirroring the 0600 contract in spec.md §6.
func LoadSecrets(path string) (*Secrets, error) {
	s := &Secrets{values: map[string]string{}}
	if path == "" {
		return s, nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, &permError{path: path, mode: info.Mode().Perm()}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.values); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the secret named key and whether it was present.
func (s *Secrets) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

type permError struct {
	path string
	mode os.FileMode
}

func (e *permError) Error() string {
	return "secrets file " + e.path + " has overly permissive mode " + e.mode.String() + ", expected 0600"
}
