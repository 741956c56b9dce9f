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

package settings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestFetchCapabilities verifies the capabilities endpoint is parsed into a
// client-keyed map.
func TestFetchCapabilities(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/clients/capabilities" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"clientId": "C1", "capabilities": ["capA", "capB"]},
			{"clientId": "C2", "capabilities": []},
			{"clientId": "", "capabilities": ["orphaned"]}
		]`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL)

	caps, err := c.FetchCapabilities(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(caps) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(caps))
	}
	if len(caps["C1"]) != 2 || caps["C1"][0] != "capA" {
		t.Errorf("C1 capabilities = %v", caps["C1"])
	}
	if len(caps["C2"]) != 0 {
		t.Errorf("C2 capabilities = %v, want empty", caps["C2"])
	}
}

// TestFetchWebhooks verifies webhook registrations including the enabled flag.
func TestFetchWebhooks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/clients/webhooks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"clientId": "C1", "webhookUrl": "https://rp1.example.com/hook", "enabled": true},
			{"clientId": "C2", "webhookUrl": "https://rp2.example.com/hook", "enabled": false}
		]`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL)

	hooks, err := c.FetchWebhooks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if hooks["C1"].URL != "https://rp1.example.com/hook" || !hooks["C1"].Enabled {
		t.Errorf("C1 webhook = %+v", hooks["C1"])
	}
	if hooks["C2"].Enabled {
		t.Error("C2 should be disabled")
	}
}

// TestFetch_HTTPError verifies non-200 responses surface as errors.
func TestFetch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL)

	if _, err := c.FetchCapabilities(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if _, err := c.FetchWebhooks(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}
