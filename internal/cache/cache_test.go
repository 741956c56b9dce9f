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

package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// TestStart_FirstRefreshSynchronous verifies data is available the moment
// Start returns.
func TestStart_FirstRefreshSynchronous(t *testing.T) {
	c := New("test", time.Hour, func(ctx context.Context) (CapabilityMap, error) {
		return CapabilityMap{"C1": {"capA"}}, nil
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Stop()

	data := c.ServiceData()
	if len(data["C1"]) != 1 || data["C1"][0] != "capA" {
		t.Errorf("snapshot = %v", data)
	}
}

// TestStart_FirstRefreshFailure verifies Start fails hard when the catalog
// is unreachable, even with retries.
func TestStart_FirstRefreshFailure(t *testing.T) {
	var calls atomic.Int32
	c := New("test", time.Hour, func(ctx context.Context) (CapabilityMap, error) {
		calls.Add(1)
		return nil, fmt.Errorf("catalog down")
	})

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error when first refresh fails")
	}

	// The refresh retries the fetch before giving up.
	if calls.Load() != fetchAttempts {
		t.Errorf("fetch calls = %d, want %d", calls.Load(), fetchAttempts)
	}
}

// TestRefresh_FailureKeepsPreviousSnapshot verifies stale-on-failure: a
// failed refresh leaves the prior snapshot installed.
func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	fail := false
	c := New("test", time.Hour, func(ctx context.Context) (CapabilityMap, error) {
		if fail {
			return nil, fmt.Errorf("catalog down")
		}
		return CapabilityMap{"C1": {"capA"}}, nil
	})

	var results []string
	c.SetMetrics(func(result string) { results = append(results, result) })

	if err := c.refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fail = true
	if err := c.refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	data := c.ServiceData()
	if len(data["C1"]) != 1 {
		t.Errorf("previous snapshot lost: %v", data)
	}

	if len(results) != 2 || results[0] != "success" || results[1] != "failure" {
		t.Errorf("refresh results = %v", results)
	}
}

// TestRefresh_SnapshotReplacedAtomically verifies a new snapshot fully
// replaces the old one rather than merging into it.
func TestRefresh_SnapshotReplacedAtomically(t *testing.T) {
	generation := 0
	c := New("test", time.Hour, func(ctx context.Context) (CapabilityMap, error) {
		generation++
		if generation == 1 {
			return CapabilityMap{"C1": {"capA"}, "C2": {"capB"}}, nil
		}
		return CapabilityMap{"C3": {"capC"}}, nil
	})

	if err := c.refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	old := c.ServiceData()

	if err := c.refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	fresh := c.ServiceData()

	if _, ok := fresh["C1"]; ok {
		t.Error("old entries must not leak into the new snapshot")
	}
	if _, ok := fresh["C3"]; !ok {
		t.Error("new snapshot missing C3")
	}
	// The snapshot handed out earlier stays intact for its readers.
	if _, ok := old["C1"]; !ok {
		t.Error("previously returned snapshot mutated")
	}
}

// TestServiceData_BeforeStart verifies a nil-safe zero value before Start.
func TestServiceData_BeforeStart(t *testing.T) {
	c := New("test", time.Hour, func(ctx context.Context) (CapabilityMap, error) {
		return nil, nil
	})

	if data := c.ServiceData(); data != nil {
		t.Errorf("expected nil map before start, got %v", data)
	}
}

// TestRefreshLoop_PeriodicRefresh verifies the background loop installs new
// snapshots and Stop halts it.
func TestRefreshLoop_PeriodicRefresh(t *testing.T) {
	var calls atomic.Int32
	c := New("test", 10*time.Millisecond, func(ctx context.Context) (CapabilityMap, error) {
		n := calls.Add(1)
		return CapabilityMap{fmt.Sprintf("gen-%d", n): nil}, nil
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("refresh loop never ticked")
		case <-time.After(5 * time.Millisecond):
		}
	}

	c.Stop()
	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != after {
		t.Error("refresh loop kept running after Stop")
	}
}
