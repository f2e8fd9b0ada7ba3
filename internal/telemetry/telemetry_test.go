// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package telemetry

import (
	"encoding/json"
	"testing"
)

func TestMergePrefersItemOverCommon(t *testing.T) {
	item := NewEvent("page_view", map[string]string{"page": "home"}, map[string]float64{"duration_ms": 120})
	merged := Merge(item, map[string]string{"page": "common-default", "env": "prod"}, map[string]float64{"duration_ms": 0, "retries": 1})

	if merged.Properties["page"] != "home" {
		t.Errorf("Properties[page] = %q, want item value to win", merged.Properties["page"])
	}
	if merged.Properties["env"] != "prod" {
		t.Errorf("Properties[env] = %q, want common value to survive", merged.Properties["env"])
	}
	if merged.Measurements["duration_ms"] != 120 {
		t.Errorf("Measurements[duration_ms] = %v, want item value to win", merged.Measurements["duration_ms"])
	}
	if merged.Measurements["retries"] != 1 {
		t.Errorf("Measurements[retries] = %v, want common value to survive", merged.Measurements["retries"])
	}
}

func TestMergeWithNoMapsReturnsNil(t *testing.T) {
	item := NewEvent("startup", nil, nil)
	merged := Merge(item, nil, nil)
	if merged.Properties != nil {
		t.Errorf("Properties = %v, want nil", merged.Properties)
	}
	if merged.Measurements != nil {
		t.Errorf("Measurements = %v, want nil", merged.Measurements)
	}
}

func TestSerializeEventRoundTrips(t *testing.T) {
	item := NewEvent("startup", map[string]string{"version": "1.2.3"}, map[string]float64{"boot_ms": 42})
	ctx := Context{RoleName: "agent", DeviceID: "host-1"}

	b, err := Serialize(item, ctx)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	var decoded envelope
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Kind != KindEvent || decoded.Name != "startup" {
		t.Errorf("decoded = %+v, want kind=event name=startup", decoded)
	}
	if decoded.Context.DeviceID != "host-1" {
		t.Errorf("Context.DeviceID = %q, want host-1", decoded.Context.DeviceID)
	}
	if decoded.Properties["version"] != "1.2.3" {
		t.Errorf("Properties[version] = %q, want 1.2.3", decoded.Properties["version"])
	}
}

func TestParseItemDefaultsKindToEvent(t *testing.T) {
	item, err := ParseItem([]byte(`{"name":"checkout.completed","properties":{"sku":"abc"}}`))
	if err != nil {
		t.Fatalf("ParseItem: %v", err)
	}
	if item.Kind != KindEvent {
		t.Errorf("Kind = %q, want event", item.Kind)
	}
	if item.Properties["sku"] != "abc" {
		t.Errorf("Properties[sku] = %q, want abc", item.Properties["sku"])
	}
	if item.Timestamp.IsZero() {
		t.Errorf("Timestamp should be stamped by ParseItem")
	}
}

func TestParseItemRejectsMissingName(t *testing.T) {
	if _, err := ParseItem([]byte(`{"kind":"event"}`)); err == nil {
		t.Fatalf("ParseItem with no name: want error, got nil")
	}
}

func TestParseItemRejectsInvalidJSON(t *testing.T) {
	if _, err := ParseItem([]byte(`not json`)); err == nil {
		t.Fatalf("ParseItem with invalid JSON: want error, got nil")
	}
}

func TestSerializeExceptionIncludesMessageAndStack(t *testing.T) {
	item := NewException("NullReferenceException", "boom", "at foo()\nat bar()", nil, nil)
	b, err := Serialize(item, Context{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	var decoded envelope
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Kind != KindException {
		t.Errorf("Kind = %q, want exception", decoded.Kind)
	}
	if decoded.Message != "boom" {
		t.Errorf("Message = %q, want boom", decoded.Message)
	}
	if decoded.StackTrace == "" {
		t.Errorf("StackTrace is empty, want the formatted stack")
	}
}
