// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// BackendClient fetches the backend-provided configuration layer
// (spec.md §6, "Outbound config fetch": GET …/settings/daemon/{node_id}
// → {success, config}).
type BackendClient interface {
	FetchConfig(nodeID string) (map[string]any, error)
}

// HTTPBackendClient is the production BackendClient implementation.
type HTTPBackendClient struct {
	BaseURL    string
	ConfigPath string
	AuthToken  string
	Client     *http.Client
}

// NewHTTPBackendClient builds a client with the spec's default 10s
// request timeout (spec.md §5).
func NewHTTPBackendClient(baseURL, configPath, authToken string) *HTTPBackendClient {
	return &HTTPBackendClient{
		BaseURL:    baseURL,
		ConfigPath: configPath,
		AuthToken:  authToken,
		Client:     &http.Client{Timeout: defaultRequestTimeout},
	}
}

type backendConfigResponse struct {
	Success bool           `json:"success"`
	Config  map[string]any `json:"config"`
}

func (c *HTTPBackendClient) FetchConfig(nodeID string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s%s/%s", c.BaseURL, c.ConfigPath, nodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("backend config fetch returned status %d", resp.StatusCode)
	}

	var parsed backendConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if !parsed.Success {
		return nil, fmt.Errorf("backend reported unsuccessful config fetch")
	}
	return parsed.Config, nil
}
