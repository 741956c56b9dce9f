// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package settings implements a client for the relying-party settings
// catalog: the registry of client capabilities and webhook endpoints the
// broker needs to classify and route notifications.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"
)

// Webhook is one client's webhook registration.
type Webhook struct {
	URL     string
	Enabled bool
}

// Client talks to the settings catalog over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a settings client. The httpClient must already handle
// authentication.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// NewOAuthClient creates a settings client authenticated via the OAuth2
// client-credentials grant.
func NewOAuthClient(ctx context.Context, baseURL, tokenURL, clientID, clientSecret string) *Client {
	creds := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return NewClient(creds.Client(ctx), baseURL)
}

// clientEntry mirrors one element of the catalog's client list.
type clientEntry struct {
	ClientID     string   `json:"clientId"`
	Capabilities []string `json:"capabilities"`
	WebhookURL   string   `json:"webhookUrl"`
	Enabled      bool     `json:"enabled"`
}

// FetchCapabilities returns the full client-to-capabilities mapping.
func (c *Client) FetchCapabilities(ctx context.Context) (map[string][]string, error) {
	entries, err := c.fetchList(ctx, "/v1/clients/capabilities")
	if err != nil {
		return nil, err
	}

	capabilities := make(map[string][]string, len(entries))
	for _, e := range entries {
		if e.ClientID == "" {
			continue
		}
		capabilities[e.ClientID] = e.Capabilities
	}
	return capabilities, nil
}

// FetchWebhooks returns the full client-to-webhook mapping.
func (c *Client) FetchWebhooks(ctx context.Context) (map[string]Webhook, error) {
	entries, err := c.fetchList(ctx, "/v1/clients/webhooks")
	if err != nil {
		return nil, err
	}

	webhooks := make(map[string]Webhook, len(entries))
	for _, e := range entries {
		if e.ClientID == "" {
			continue
		}
		webhooks[e.ClientID] = Webhook{URL: e.WebhookURL, Enabled: e.Enabled}
	}
	return webhooks, nil
}

func (c *Client) fetchList(ctx context.Context, path string) ([]clientEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch %s failed (HTTP %d): %s", path, resp.StatusCode, string(body))
	}

	var entries []clientEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return entries, nil
}
