// Package influxdb records screen history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library: target status and
// acquire changes, surfaced errors, and physical target writes become points
// that operators can correlate with beam data.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history is optional
//	}
//	defer client.Close()
//
//	client.WriteScreenUpdate("YAG03", "target_status", true)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch failures are delivered to the SetOnError callback.
package influxdb
