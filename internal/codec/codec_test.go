package codec

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeMinimalValidEvent(t *testing.T) {
	c := New(DefaultLimits())
	raw := []byte(`{"event_version":"1.0","app_name":"SampleGame","client_id":"d57faa2b-9bfd-4502-a7b7-a43cb365f8f2","event_id":"91650ce5-825a-4e90-ab22-174a4fb2da79","event_timestamp":1508872163135,"event_type":"test_event"}`)

	out := c.Decode(raw, TransportMeta{}, 1508872164000)
	if out.Kind != Success {
		t.Fatalf("expected Success, got kind=%d err=%v", out.Kind, out.Err)
	}
	if out.Event.RequiredSanitization {
		t.Fatalf("expected no sanitization")
	}
	if !strings.HasSuffix(string(out.ProcessedJSON), "\n") {
		t.Fatalf("expected trailing newline")
	}

	var got map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(out.ProcessedJSON))
	dec.UseNumber()
	if err := dec.Decode(&got); err != nil {
		t.Fatalf("processed json invalid: %v", err)
	}
	for _, key := range []string{"event_version", "app_name", "client_id", "event_id", "event_timestamp", "event_type"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("missing input key %q in processed output", key)
		}
	}
	if got["server_timestamp"].(json.Number).String() != "1508872164000" {
		t.Fatalf("unexpected server_timestamp: %v", got["server_timestamp"])
	}
}

func TestDecodeMissingRequiredField(t *testing.T) {
	c := New(DefaultLimits())
	raw := []byte(`{"event_version":"1.0","app_name":"SampleGame","client_id":"d57faa2b-9bfd-4502-a7b7-a43cb365f8f2","event_id":"91650ce5-825a-4e90-ab22-174a4fb2da79","event_timestamp":1508872163135}`)

	out := c.Decode(raw, TransportMeta{}, 1)
	if out.Kind != KindValidationError {
		t.Fatalf("expected ValidationError, got kind=%d", out.Kind)
	}
	if out.Reason() != ReasonValidation {
		t.Fatalf("expected reason %q, got %q", ReasonValidation, out.Reason())
	}
	if string(out.Raw) != string(raw) {
		t.Fatalf("ErrorRecord json should equal raw input")
	}
}

func TestDecodeOverlongAppNameIsSanitized(t *testing.T) {
	c := New(DefaultLimits())
	longName := strings.Repeat("a", 100)
	raw := []byte(`{"event_version":"1.0","app_name":"` + longName + `","client_id":"c","event_id":"e","event_timestamp":1,"event_type":"t"}`)

	out := c.Decode(raw, TransportMeta{}, 1)
	if out.Kind != Success {
		t.Fatalf("expected Success, got kind=%d err=%v", out.Kind, out.Err)
	}
	if !out.Event.RequiredSanitization {
		t.Fatalf("expected required_sanitization=true")
	}
	if len(out.Event.AppName) != 64 {
		t.Fatalf("expected truncated app_name len=64, got %d", len(out.Event.AppName))
	}
	found := false
	for _, f := range out.Event.SanitizedFields {
		if f == "app_name" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected app_name in sanitized_fields, got %v", out.Event.SanitizedFields)
	}
}

func TestDecodeCharsetViolationAfterTruncation(t *testing.T) {
	c := New(DefaultLimits())
	raw := []byte(`{"event_version":"1.0","app_name":"Sample*Game","client_id":"c","event_id":"e","event_timestamp":1,"event_type":"t"}`)

	out := c.Decode(raw, TransportMeta{}, 1)
	if out.Kind != KindValidationError {
		t.Fatalf("expected ValidationError, got kind=%d", out.Kind)
	}
	if out.Field != "app_name" {
		t.Fatalf("expected field app_name, got %q", out.Field)
	}
}

func TestDecodeNegativeTimestampSanitizedToZero(t *testing.T) {
	c := New(DefaultLimits())
	raw := []byte(`{"event_version":"1.0","app_name":"a","client_id":"c","event_id":"e","event_timestamp":-5,"event_type":"t"}`)

	out := c.Decode(raw, TransportMeta{}, 1)
	if out.Kind != Success {
		t.Fatalf("expected Success, got kind=%d err=%v", out.Kind, out.Err)
	}
	if out.Event.EventTimestamp != 0 {
		t.Fatalf("expected sanitized event_timestamp=0, got %d", out.Event.EventTimestamp)
	}
	if !out.Event.RequiredSanitization {
		t.Fatalf("expected required_sanitization=true")
	}
}

func TestDecodeNonNumericPositionSanitized(t *testing.T) {
	c := New(DefaultLimits())
	raw := []byte(`{"event_version":"1.0","app_name":"a","client_id":"c","event_id":"e","event_timestamp":1,"event_type":"t","position_x":"not-a-number"}`)

	out := c.Decode(raw, TransportMeta{}, 1)
	if out.Kind != Success {
		t.Fatalf("expected Success, got kind=%d err=%v", out.Kind, out.Err)
	}
	if out.Event.PositionX == nil || *out.Event.PositionX != 0 {
		t.Fatalf("expected position_x sanitized to 0")
	}
}

func TestDecodeParseError(t *testing.T) {
	c := New(DefaultLimits())
	out := c.Decode([]byte(`not json`), TransportMeta{}, 1)
	if out.Kind != KindParseError {
		t.Fatalf("expected ParseError, got kind=%d", out.Kind)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	c := New(DefaultLimits())
	longName := strings.Repeat("a", 100)
	raw := []byte(`{"event_version":"1.0","app_name":"` + longName + `","client_id":"c","event_id":"e","event_timestamp":1,"event_type":"t"}`)

	first := c.Decode(raw, TransportMeta{}, 1)
	if first.Kind != Success {
		t.Fatalf("expected Success: %v", first.Err)
	}

	second := c.Decode(first.ProcessedJSON, TransportMeta{}, 1)
	if second.Kind != Success {
		t.Fatalf("expected Success on re-decode: %v", second.Err)
	}
	if second.Event.AppName != first.Event.AppName {
		t.Fatalf("sanitize not idempotent: %q vs %q", first.Event.AppName, second.Event.AppName)
	}
}

func TestHexRoundTrip(t *testing.T) {
	if got := ToHex([]byte{0x0a, 0xff, 0x12, 0x38}); got != "0aff1238" {
		t.Fatalf("ToHex mismatch: %s", got)
	}
	got := ToBytes("54321")
	want := []byte{0x54, 0x32, 0x10}
	if len(got) != len(want) {
		t.Fatalf("ToBytes length mismatch: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ToBytes mismatch at %d: got %x want %x", i, got[i], want[i])
		}
	}
}
