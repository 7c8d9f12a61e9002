// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package broadcast

import "net"

// newListener opens the TCP listener that start serves on; it always
// binds a real port on addr.
func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
