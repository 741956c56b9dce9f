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

// Package notification parses raw queue payloads into typed service
// notifications. Every payload carries an `event` discriminator and a
// timestamp as either `timestamp` (milliseconds) or `ts` (seconds);
// timestamps are normalised to milliseconds on decode.
package notification

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event discriminator values accepted on the upstream queue.
const (
	EventLogin               = "login"
	EventSubscriptionUpdate  = "subscription:update"
	EventDelete              = "delete"
	EventPrimaryEmailChanged = "primaryEmailChanged"
	EventProfileDataChange   = "profileDataChange"
	EventPasswordChange      = "passwordChange"
	EventPasswordReset       = "reset"
)

// ErrUnwanted marks a payload whose event kind the broker does not handle.
// Such messages are dropped without retry.
var ErrUnwanted = errors.New("unwanted event")

// ErrMalformed marks a payload that names a recognised event but fails
// validation. Redelivery cannot repair these, so they are dropped too.
var ErrMalformed = errors.New("malformed notification")

// Notification is one decoded service notification variant.
type Notification interface {
	// EventName returns the event discriminator of the source payload.
	EventName() string
	// UserID returns the account the notification is about.
	UserID() string
	// ChangeTime returns when the change happened, in milliseconds since epoch.
	ChangeTime() int64
}

// Login records that a user authenticated to a relying party.
type Login struct {
	UID         string
	ClientID    string // may be empty; such logins are not recorded
	Timestamp   int64  // milliseconds
	DeviceCount int
}

func (n Login) EventName() string { return EventLogin }
func (n Login) UserID() string    { return n.UID }
func (n Login) ChangeTime() int64 { return n.Timestamp }

// SubscriptionUpdate signals a change in a user's subscription state.
type SubscriptionUpdate struct {
	UID                 string
	EventCreatedAt      int64 // seconds, as delivered upstream
	IsActive            bool
	ProductCapabilities []string
}

func (n SubscriptionUpdate) EventName() string { return EventSubscriptionUpdate }
func (n SubscriptionUpdate) UserID() string    { return n.UID }
func (n SubscriptionUpdate) ChangeTime() int64 { return n.EventCreatedAt * 1000 }

// Delete signals that a user account was deleted.
type Delete struct {
	UID       string
	Timestamp int64 // milliseconds
}

func (n Delete) EventName() string { return EventDelete }
func (n Delete) UserID() string    { return n.UID }
func (n Delete) ChangeTime() int64 { return n.Timestamp }

// ProfileChange covers profile data edits and primary email changes.
type ProfileChange struct {
	Event     string // primaryEmailChanged or profileDataChange
	UID       string
	Timestamp int64 // milliseconds
}

func (n ProfileChange) EventName() string { return n.Event }
func (n ProfileChange) UserID() string    { return n.UID }
func (n ProfileChange) ChangeTime() int64 { return n.Timestamp }

// PasswordChange covers password changes and password resets.
type PasswordChange struct {
	Event     string // passwordChange or reset
	UID       string
	Timestamp int64 // milliseconds
}

func (n PasswordChange) EventName() string { return n.Event }
func (n PasswordChange) UserID() string    { return n.UID }
func (n PasswordChange) ChangeTime() int64 { return n.Timestamp }

// rawMessage mirrors the upstream JSON shape. Pointer fields distinguish
// "absent" from zero values during validation.
type rawMessage struct {
	Event               string   `json:"event"`
	UID                 string   `json:"uid"`
	ClientID            string   `json:"clientId"`
	Timestamp           *int64   `json:"timestamp"`
	TS                  *float64 `json:"ts"`
	DeviceCount         *int     `json:"deviceCount"`
	EventCreatedAt      *int64   `json:"eventCreatedAt"`
	IsActive            *bool    `json:"isActive"`
	ProductCapabilities []string `json:"productCapabilities"`
}

// millis resolves the message time in milliseconds: `timestamp` wins,
// otherwise `ts` seconds are scaled up.
func (r *rawMessage) millis() (int64, bool) {
	if r.Timestamp != nil {
		return *r.Timestamp, true
	}
	if r.TS != nil {
		return int64(*r.TS * 1000), true
	}
	return 0, false
}

// Decode parses a raw queue payload into a typed notification.
//
// It returns ErrUnwanted for event kinds the broker does not handle and
// ErrMalformed (wrapped, with detail) for recognised kinds that fail
// validation. Both are terminal: callers drop the message either way.
func Decode(body []byte) (Notification, error) {
	var raw rawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch raw.Event {
	case EventLogin:
		if raw.UID == "" {
			return nil, fmt.Errorf("%w: login without uid", ErrMalformed)
		}
		ms, ok := raw.millis()
		if !ok {
			return nil, fmt.Errorf("%w: login without ts or timestamp", ErrMalformed)
		}
		n := Login{UID: raw.UID, ClientID: raw.ClientID, Timestamp: ms}
		if raw.DeviceCount != nil {
			n.DeviceCount = *raw.DeviceCount
		}
		return n, nil

	case EventSubscriptionUpdate:
		if raw.UID == "" {
			return nil, fmt.Errorf("%w: subscription update without uid", ErrMalformed)
		}
		if raw.EventCreatedAt == nil {
			return nil, fmt.Errorf("%w: subscription update without eventCreatedAt", ErrMalformed)
		}
		if raw.IsActive == nil {
			return nil, fmt.Errorf("%w: subscription update without isActive", ErrMalformed)
		}
		if raw.ProductCapabilities == nil {
			return nil, fmt.Errorf("%w: subscription update without productCapabilities", ErrMalformed)
		}
		return SubscriptionUpdate{
			UID:                 raw.UID,
			EventCreatedAt:      *raw.EventCreatedAt,
			IsActive:            *raw.IsActive,
			ProductCapabilities: raw.ProductCapabilities,
		}, nil

	case EventDelete:
		if raw.UID == "" {
			return nil, fmt.Errorf("%w: delete without uid", ErrMalformed)
		}
		ms, ok := raw.millis()
		if !ok {
			return nil, fmt.Errorf("%w: delete without ts or timestamp", ErrMalformed)
		}
		return Delete{UID: raw.UID, Timestamp: ms}, nil

	case EventPrimaryEmailChanged, EventProfileDataChange:
		if raw.UID == "" {
			return nil, fmt.Errorf("%w: %s without uid", ErrMalformed, raw.Event)
		}
		ms, ok := raw.millis()
		if !ok {
			return nil, fmt.Errorf("%w: %s without ts or timestamp", ErrMalformed, raw.Event)
		}
		return ProfileChange{Event: raw.Event, UID: raw.UID, Timestamp: ms}, nil

	case EventPasswordChange, EventPasswordReset:
		if raw.UID == "" {
			return nil, fmt.Errorf("%w: %s without uid", ErrMalformed, raw.Event)
		}
		ms, ok := raw.millis()
		if !ok {
			return nil, fmt.Errorf("%w: %s without ts or timestamp", ErrMalformed, raw.Event)
		}
		return PasswordChange{Event: raw.Event, UID: raw.UID, Timestamp: ms}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnwanted, raw.Event)
	}
}
