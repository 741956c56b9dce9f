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

// Package reporting wraps Sentry behind a small interface so handlers can
// surface errors for alerting without depending on the SDK directly.
package reporting

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives handler errors for alerting. Tags carry routing context
// such as the event kind and uid.
type Reporter interface {
	CaptureError(err error, tags map[string]string)
}

// SentryReporter sends errors to Sentry.
type SentryReporter struct{}

// Init initialises the Sentry SDK and returns a reporter. An empty DSN
// yields a no-op reporter, which keeps local development quiet.
func Init(dsn, environment, release string) (Reporter, error) {
	if dsn == "" {
		return NopReporter{}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, err
	}
	return SentryReporter{}, nil
}

// CaptureError reports the error with the given tags on an isolated scope.
func (SentryReporter) CaptureError(err error, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// Flush blocks until buffered events are sent or the timeout passes.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

// NopReporter discards all errors.
type NopReporter struct{}

// CaptureError does nothing.
func (NopReporter) CaptureError(error, map[string]string) {}
