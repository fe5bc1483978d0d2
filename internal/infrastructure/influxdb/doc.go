// Package influxdb records HomeNet telemetry in InfluxDB v2.
//
// Two measurements are written:
//
//	node_values  tags: node, command_class, label   fields: value (float) or state (bool)
//	store_saves  tags: result                       fields: devices, bytes, duration_ms
//
// InfluxDB is optional. With influxdb.enabled false, Connect returns
// ErrDisabled and the caller runs without telemetry.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteNodeValue(5, 38, "Level", 99.0, time.Now())
package influxdb
