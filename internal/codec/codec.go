package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// charsetPattern is the allowed character class for every string field,
// checked AFTER truncation per spec.md §4.1.
var charsetPattern = regexp.MustCompile(`^[-A-Za-z0-9_. ]*$`)

// Kind tags the result of a decode attempt. Replaces the Java exception
// hierarchy per spec.md §9 — callers switch on Kind instead of catching.
type Kind int

const (
	Success Kind = iota
	KindParseError
	KindValidationError
	KindSerializationError
)

// Outcome is the tagged result of Codec.Decode.
type Outcome struct {
	Kind Kind

	Event         TelemetryEvent
	ProcessedJSON []byte

	// Raw is the original input, retained for ErrorRecord construction on
	// any non-Success outcome.
	Raw []byte

	// Field names a ValidationError's offending field, when known.
	Field string

	// Err carries the underlying parse/serialization error.
	Err error
}

// Reason maps an Outcome's Kind to the wire-level reason tag of
// spec.md §6, or "" for Success.
func (o Outcome) Reason() string {
	switch o.Kind {
	case KindParseError:
		return ReasonParse
	case KindValidationError:
		return ReasonValidation
	case KindSerializationError:
		return ReasonSerialization
	default:
		return ""
	}
}

// Codec implements parse/validate/sanitize/enrich/serialize.
type Codec struct {
	Limits Limits
}

// New constructs a Codec with the given field-length limits.
func New(limits Limits) *Codec {
	return &Codec{Limits: limits}
}

// Decode runs the full pipeline: parse, validate+sanitize, enrich with
// serverTimestamp (unix millis), serialize. meta supplies the
// transport-attached fields (shard id, sequence number, partition key).
func (c *Codec) Decode(raw []byte, meta TransportMeta, serverTimestamp int64) Outcome {
	tree, err := c.parse(raw)
	if err != nil {
		return Outcome{Kind: KindParseError, Raw: raw, Err: err}
	}

	ev, sanitized, err := c.validateAndSanitize(tree)
	if err != nil {
		field := ""
		if ve, ok := err.(*ValidationError); ok {
			field = ve.Field
		}
		return Outcome{Kind: KindValidationError, Raw: raw, Field: field, Err: err}
	}
	ev.RequiredSanitization = len(sanitized) > 0
	ev.SanitizedFields = sanitized
	ev.ShardID = meta.ShardID
	ev.SequenceNumber = meta.SequenceNumber
	ev.PartitionKey = meta.PartitionKey
	ev.ServerTimestamp = serverTimestamp

	tree["server_timestamp"] = serverTimestamp

	processed, err := c.serialize(tree)
	if err != nil {
		return Outcome{Kind: KindSerializationError, Raw: raw, Err: err}
	}

	return Outcome{Kind: Success, Event: ev, ProcessedJSON: processed, Raw: raw}
}

// ValidationError reports a missing required field or a charset
// violation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Reason)
}

func (c *Codec) parse(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree map[string]interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

type stringField struct {
	key      string
	maxLen   int
	required bool
	dest     *string
}

func (c *Codec) validateAndSanitize(tree map[string]interface{}) (TelemetryEvent, []string, error) {
	var ev TelemetryEvent
	var sanitized []string

	fields := []stringField{
		{"event_version", c.Limits.EventVersionMax, true, &ev.EventVersion},
		{"app_name", c.Limits.AppNameMax, true, &ev.AppName},
		{"client_id", c.Limits.ClientIDMax, true, &ev.ClientID},
		{"event_id", c.Limits.EventIDMax, true, &ev.EventID},
		{"event_type", c.Limits.EventTypeMax, true, &ev.EventType},
		{"app_version", c.Limits.AppVersionMax, false, &ev.AppVersion},
		{"level_id", c.Limits.LevelIDMax, false, &ev.LevelID},
	}

	for _, f := range fields {
		raw, present := tree[f.key]
		if !present || raw == nil {
			if f.required {
				return ev, nil, &ValidationError{Field: f.key, Reason: "required field missing"}
			}
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return ev, nil, &ValidationError{Field: f.key, Reason: "expected string"}
		}
		if len(s) > f.maxLen {
			s = s[:f.maxLen]
			sanitized = append(sanitized, f.key)
			tree[f.key] = s
		}
		if !charsetPattern.MatchString(s) {
			return ev, nil, &ValidationError{Field: f.key, Reason: "character set violation"}
		}
		*f.dest = s
	}

	ts, tsPresent := tree["event_timestamp"]
	if !tsPresent || ts == nil {
		return ev, nil, &ValidationError{Field: "event_timestamp", Reason: "required field missing"}
	}
	n, ok := parseInt(ts)
	if !ok || n < 0 {
		n = 0
		sanitized = append(sanitized, "event_timestamp")
		tree["event_timestamp"] = n
	}
	ev.EventTimestamp = n

	if raw, present := tree["position_x"]; present && raw != nil {
		f, ok := parseFloat(raw)
		if !ok {
			f = 0
			sanitized = append(sanitized, "position_x")
			tree["position_x"] = f
		}
		ev.PositionX = &f
	}
	if raw, present := tree["position_y"]; present && raw != nil {
		f, ok := parseFloat(raw)
		if !ok {
			f = 0
			sanitized = append(sanitized, "position_y")
			tree["position_y"] = f
		}
		ev.PositionY = &f
	}

	return ev, sanitized, nil
}

// parseInt accepts json.Number, float64 or string representations of an
// integer, per spec.md §4.1 ("integer parse of a string is accepted").
func parseInt(v interface{}) (int64, bool) {
	switch vv := v.(type) {
	case json.Number:
		n, err := vv.Int64()
		if err == nil {
			return n, true
		}
		if f, err := vv.Float64(); err == nil {
			return int64(f), true
		}
		return 0, false
	case string:
		n, err := strconv.ParseInt(vv, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		return int64(vv), true
	default:
		return 0, false
	}
}

func parseFloat(v interface{}) (float64, bool) {
	switch vv := v.(type) {
	case json.Number:
		f, err := vv.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		return f, err == nil
	case float64:
		return vv, true
	default:
		return 0, false
	}
}

func (c *Codec) serialize(tree map[string]interface{}) ([]byte, error) {
	b, err := marshalCanonical(tree)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 || b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	return b, nil
}
