package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordItem writes one item value as a point in the item_values
// measurement. It satisfies gateway.Recorder.
//
// Numeric and boolean values land in the "value" field; booleans as 0/1 so
// they graph alongside numbers. Strings go to "value_str"; any other type
// is skipped. The write is non-blocking, batched and sent asynchronously,
// so the returned error is always nil.
//
// Parameters:
//   - item: Item identifier, stored as a tag
//   - value: Emitted item value
//   - ts: Emission timestamp
func (c *Client) RecordItem(item string, value any, ts time.Time) error {
	if !c.IsConnected() {
		return nil
	}

	fields := itemFields(value)
	if fields == nil {
		return nil
	}

	point := write.NewPoint(
		"item_values",
		map[string]string{
			"item": item,
		},
		fields,
		ts,
	)

	c.writeAPI.WritePoint(point)
	return nil
}

// RecordAvailability writes one link transition to the availability
// measurement. It satisfies gateway.Recorder.
func (c *Client) RecordAvailability(device string, online bool, ts time.Time) error {
	if !c.IsConnected() {
		return nil
	}

	point := write.NewPoint(
		"availability",
		map[string]string{
			"device": device,
		},
		map[string]interface{}{
			"online": boolField(online),
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
	return nil
}

// itemFields maps an item value to InfluxDB fields. Nil means the value
// has no useful time-series representation.
func itemFields(value any) map[string]interface{} {
	switch v := value.(type) {
	case bool:
		return map[string]interface{}{"value": boolField(v)}
	case float64:
		return map[string]interface{}{"value": v}
	case float32:
		return map[string]interface{}{"value": float64(v)}
	case int:
		return map[string]interface{}{"value": float64(v)}
	case int64:
		return map[string]interface{}{"value": float64(v)}
	case string:
		return map[string]interface{}{"value_str": v}
	default:
		return nil
	}
}

func boolField(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the item helpers.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "gateway-01"},
//	    map[string]interface{}{"pending_reads": 3, "sessions": 2})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
