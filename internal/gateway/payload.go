package gateway

import (
	"bytes"
	"encoding/json"
	"time"
)

// statePayload is the outbound item-state envelope.
type statePayload struct {
	Value any       `json:"value"`
	TS    time.Time `json:"ts"`
}

// errorPayload replaces statePayload when a request for the item failed.
// A state message carries a value or an error, never both.
type errorPayload struct {
	Error UpdateError `json:"error"`
	TS    time.Time   `json:"ts"`
}

// Availability payload values, published retained per device.
const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// decodeSet extracts the value and optional source from an inbound set
// payload.
//
// Accepted forms:
//   - envelope: {"value": <v>, "source": "..."}
//   - bare JSON scalar: true, 42, "HDMI1"
//   - raw bytes, taken as a string value
//
// A JSON object without a "value" key is treated as the value itself, so
// json-typed commands can receive structured values directly.
func decodeSet(payload []byte) (value any, source string, err error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, "", ErrEmptyPayload
	}

	if trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if json.Unmarshal(trimmed, &obj) == nil {
			if _, ok := obj["value"]; ok {
				var envelope struct {
					Value  any    `json:"value"`
					Source string `json:"source"`
				}
				if json.Unmarshal(trimmed, &envelope) == nil {
					return envelope.Value, envelope.Source, nil
				}
			}
		}
	}

	var v any
	if json.Unmarshal(trimmed, &v) == nil {
		return v, "", nil
	}
	return string(trimmed), "", nil
}
