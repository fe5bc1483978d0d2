package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementNodeValues = "node_values"
	MeasurementStoreSaves = "store_saves"
)

// WriteNodeValue records one Z-Wave value change. Numbers are written to
// the "value" field and booleans to the "state" field so the two never
// conflict; other types are not recorded. It reports whether a point was
// queued.
func (c *Client) WriteNodeValue(node, commandClass int, label string, value any, at time.Time) bool {
	if !c.IsConnected() {
		return false
	}

	fields := make(map[string]any, 1)
	switch v := value.(type) {
	case bool:
		fields["state"] = v
	case float64:
		fields["value"] = v
	case float32:
		fields["value"] = float64(v)
	case int:
		fields["value"] = float64(v)
	case int64:
		fields["value"] = float64(v)
	default:
		return false
	}

	tags := map[string]string{
		"node":          strconv.Itoa(node),
		"command_class": strconv.Itoa(commandClass),
		"label":         label,
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementNodeValues, tags, fields, at))
	return true
}

// WriteStoreSave records one write of the device database.
func (c *Client) WriteStoreSave(devices, bytes int, duration time.Duration, ok bool) {
	if !c.IsConnected() {
		return
	}

	result := "ok"
	if !ok {
		result = "error"
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementStoreSaves,
		map[string]string{"result": result},
		map[string]any{
			"devices":     devices,
			"bytes":       bytes,
			"duration_ms": float64(duration) / float64(time.Millisecond),
		},
		time.Now(),
	))
}
