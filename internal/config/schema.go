// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package config

import "fmt"

// fieldKind is the type a recognised override setting must satisfy.
type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindFloat
	kindBool
	kindStringSlice
	kindStructured // nested map, e.g. alerts.rules
	kindRestartRequired // recognised but not hot-reloadable
)

// schema is the published table of settings the control API accepts
// (spec.md §4.10, GET /api/config/schema; §4.8 lists which keys are
// hot-reloadable vs. restart-required).
var schema = map[string]fieldKind{
	"log_level":                    kindString,
	"tailer.keywords":              kindStringSlice,
	"tailer.max_tailers":           kindInt,
	"alerts.rules":                 kindStructured, // map[rule key]{threshold, duration_seconds, ...}, see parseAlertRules
	"control_api.port":             kindRestartRequired,
	"livelogs.port":                kindRestartRequired,
	"livemetrics.port":             kindRestartRequired,
	"broker.url":                   kindRestartRequired,
	"broker.exchange":              kindRestartRequired,
	"sampler.interval_seconds":     kindInt,
	"publisher.interval_seconds":   kindInt,
	"suppression.ttl_seconds":      kindInt,
}

// Schema returns the published schema as a plain map for
// GET /api/config/schema.
func Schema() map[string]string {
	out := map[string]string{}
	for k, v := range schema {
		out[k] = kindName(v)
	}
	return out
}

func kindName(k fieldKind) string {
	switch k {
	case kindString:
		return "string"
	case kindInt:
		return "int"
	case kindFloat:
		return "float"
	case kindBool:
		return "bool"
	case kindStringSlice:
		return "[]string"
	case kindStructured:
		return "map"
	case kindRestartRequired:
		return "restart_required"
	default:
		return "unknown"
	}
}

// ValidateOverrides checks each proposed setting against the schema,
// rejecting unknown keys, restart-required keys, and type mismatches
// (spec.md §4.10: "invalid updates are rejected with a structured
// error and the previous snapshot remains in force").
func ValidateOverrides(settings map[string]any) (map[string]any, error) {
	out := map[string]any{}
	for path, v := range settings {
		kind, known := schema[path]
		if !known {
			return nil, fmt.Errorf("unrecognised setting %q", path)
		}
		if kind == kindRestartRequired {
			return nil, fmt.Errorf("setting %q requires a restart and cannot be hot-applied", path)
		}
		if err := checkType(path, kind, v); err != nil {
			return nil, err
		}
		out[path] = v
	}
	return out, nil
}

func checkType(path string, kind fieldKind, v any) error {
	switch kind {
	case kindString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("setting %q must be a string", path)
		}
	case kindInt:
		switch v.(type) {
		case int, int32, int64, float64:
		default:
			return fmt.Errorf("setting %q must be an integer", path)
		}
	case kindFloat:
		switch v.(type) {
		case float32, float64, int:
		default:
			return fmt.Errorf("setting %q must be a number", path)
		}
	case kindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("setting %q must be a boolean", path)
		}
	case kindStringSlice:
		switch vv := v.(type) {
		case []string:
		case []any:
			for _, e := range vv {
				if _, ok := e.(string); !ok {
					return fmt.Errorf("setting %q must be a list of strings", path)
				}
			}
		default:
			return fmt.Errorf("setting %q must be a list of strings", path)
		}
	case kindStructured:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("setting %q must be a map", path)
		}
	}
	return nil
}
