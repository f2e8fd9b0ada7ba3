// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package telemetry defines the in-memory shapes producers hand to the
// channel façade — named events and exception reports carrying string
// properties and numeric measurements (spec.md §4.4) — and their wire
// serialization.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the two item shapes the façade accepts.
type Kind string

const (
	KindEvent     Kind = "event"
	KindException Kind = "exception"
)

// Context is the process/machine-level information the channel
// attaches to every item before serialization (spec.md §4.4 "common
// context"), populated once at construction by internal/envinfo.
type Context struct {
	RoleName     string `json:"role_name,omitempty"`
	RoleInstance string `json:"role_instance,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`
	SDKVersion   string `json:"sdk_version,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// Item is a telemetry item a producer hands to Channel.Send: a named
// event or an exception report, with properties/measurements the
// façade merges with Context before serializing.
type Item struct {
	Kind Kind

	// Name identifies an event; for exceptions it is typically the
	// exception's type name.
	Name string

	// Message carries the exception's human-readable message. Unused
	// for events.
	Message string

	// StackTrace carries the exception's formatted stack. Unused for
	// events.
	StackTrace string

	Properties   map[string]string
	Measurements map[string]float64
	Timestamp    time.Time
}

// NewEvent constructs an Item of KindEvent.
func NewEvent(name string, properties map[string]string, measurements map[string]float64) Item {
	return Item{
		Kind:         KindEvent,
		Name:         name,
		Properties:   properties,
		Measurements: measurements,
		Timestamp:    time.Now().UTC(),
	}
}

// NewException constructs an Item of KindException.
func NewException(typeName, message, stackTrace string, properties map[string]string, measurements map[string]float64) Item {
	return Item{
		Kind:         KindException,
		Name:         typeName,
		Message:      message,
		StackTrace:   stackTrace,
		Properties:   properties,
		Measurements: measurements,
		Timestamp:    time.Now().UTC(),
	}
}

// envelope is the wire shape written to the spool payload. Field names
// are deliberately short and stable — they form an external contract
// with whatever ingests transmission.payload.
type envelope struct {
	Kind         Kind               `json:"kind"`
	Name         string             `json:"name"`
	Message      string             `json:"message,omitempty"`
	StackTrace   string             `json:"stack_trace,omitempty"`
	Properties   map[string]string  `json:"properties,omitempty"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
	Context      Context            `json:"context"`
}

// ContentType is the media type of Serialize's output.
const ContentType = "application/json"

// Merge returns a copy of item with commonProperties/commonMeasurements
// folded in underneath the item's own values — per spec.md §4.4,
// producer-supplied values win on key collision. Context is attached
// later, by Serialize.
func Merge(item Item, commonProperties map[string]string, commonMeasurements map[string]float64) Item {
	merged := item
	merged.Properties = mergeStrings(commonProperties, item.Properties)
	merged.Measurements = mergeFloats(commonMeasurements, item.Measurements)
	return merged
}

func mergeStrings(base, overrides map[string]string) map[string]string {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func mergeFloats(base, overrides map[string]float64) map[string]float64 {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	out := make(map[string]float64, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// wireItem is the shape accepted from an external producer (the
// telepulse-agent JSON-lines ingest protocol): the same fields as
// envelope, minus the timestamp and context the agent attaches itself.
type wireItem struct {
	Kind         Kind               `json:"kind"`
	Name         string             `json:"name"`
	Message      string             `json:"message,omitempty"`
	StackTrace   string             `json:"stack_trace,omitempty"`
	Properties   map[string]string  `json:"properties,omitempty"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
}

// ParseItem decodes one JSON-lines ingest record into an Item. Kind
// defaults to KindEvent when absent, and Timestamp is stamped with the
// current time since the wire protocol doesn't carry one.
func ParseItem(line []byte) (Item, error) {
	var w wireItem
	if err := json.Unmarshal(line, &w); err != nil {
		return Item{}, fmt.Errorf("telemetry: parsing ingest line: %w", err)
	}
	if w.Name == "" {
		return Item{}, fmt.Errorf("telemetry: ingest line missing %q", "name")
	}
	kind := w.Kind
	if kind == "" {
		kind = KindEvent
	}
	return Item{
		Kind:         kind,
		Name:         w.Name,
		Message:      w.Message,
		StackTrace:   w.StackTrace,
		Properties:   w.Properties,
		Measurements: w.Measurements,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Serialize renders item (with ctx attached) as the JSON payload the
// spool stores opaquely (spec.md §3: "treat as a byte buffer").
func Serialize(item Item, ctx Context) ([]byte, error) {
	ts := item.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	e := envelope{
		Kind:         item.Kind,
		Name:         item.Name,
		Message:      item.Message,
		StackTrace:   item.StackTrace,
		Properties:   item.Properties,
		Measurements: item.Measurements,
		Timestamp:    ts,
		Context:      ctx,
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("telemetry: serializing %s %q: %w", item.Kind, item.Name, err)
	}
	return b, nil
}
