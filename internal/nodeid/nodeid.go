// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package nodeid resolves and persists the agent's stable node
// identifier (spec.md §9, open question: "Node identifier source").
// The source repo the spec was distilled from carries two
// inconsistent candidates; this implementation follows the spec's
// instruction to choose one and keep it stable: a machine UUID
// persisted to a local file, falling back to an IP-derived id only
// when the data directory can't be written to.
package nodeid

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const fileName = "node_id"

// Resolve returns a stable node identifier, generating and persisting
// one under dataDir on first run. If dataDir is unwritable, it falls
// back to an IP-derived id and reports degraded via the bool return.
func Resolve(dataDir string) (id string, persistent bool, err error) {
	path := filepath.Join(dataDir, fileName)

	if b, rerr := os.ReadFile(path); rerr == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, true, nil
		}
	}

	newID := uuid.NewString()
	if werr := writeNodeID(dataDir, path, newID); werr != nil {
		ip, iperr := ipDerivedID()
		if iperr != nil {
			return "", false, fmt.Errorf("persist node id: %w; ip fallback also failed: %v", werr, iperr)
		}
		return ip, false, nil
	}
	return newID, true, nil
}

func writeNodeID(dataDir, path, id string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(id), 0o644)
}

func ipDerivedID() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		return "ip-" + strings.ReplaceAll(ipNet.IP.String(), ".", "-"), nil
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}
