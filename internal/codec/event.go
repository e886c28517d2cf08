// Package codec implements the telemetry event decode pipeline: JSON
// parse, field validation, sanitization, and enrichment with the
// server-arrival timestamp.
package codec

// TelemetryEvent is the logical record produced by a client, enriched
// with transport metadata and a server-arrival timestamp.
type TelemetryEvent struct {
	EventVersion string `json:"event_version"`
	AppName      string `json:"app_name"`
	ClientID     string `json:"client_id"`
	EventID      string `json:"event_id"`
	EventType    string `json:"event_type"`

	EventTimestamp int64 `json:"event_timestamp"`

	AppVersion string `json:"app_version,omitempty"`
	LevelID    string `json:"level_id,omitempty"`

	PositionX *float64 `json:"position_x,omitempty"`
	PositionY *float64 `json:"position_y,omitempty"`

	// Transport-attached fields, not part of the client JSON.
	ShardID         string `json:"-"`
	SequenceNumber  string `json:"-"`
	PartitionKey    string `json:"-"`
	ServerTimestamp int64  `json:"-"`

	RequiredSanitization bool     `json:"-"`
	SanitizedFields      []string `json:"-"`
}

// TransportMeta carries the fields the stream transport attaches to a
// record, independent of the client-supplied JSON payload.
type TransportMeta struct {
	ShardID        string
	SequenceNumber string
	PartitionKey   string
}

// ErrorRecord is emitted to the error archival path when decode fails or
// sanitization was required.
type ErrorRecord struct {
	Reason string   `json:"reason"`
	JSON   string   `json:"json,omitempty"`
	Fields []string `json:"fields,omitempty"`
	Hex    string   `json:"hex,omitempty"`
}

// Reason tags for ErrorRecord, matching spec.md §6.
const (
	ReasonSanitization  = "SanitizationException"
	ReasonValidation    = "TelemetryEventValidationException"
	ReasonParse         = "TelemetryEventParseException"
	ReasonSerialization = "TelemetryEventSerializationException"
)
