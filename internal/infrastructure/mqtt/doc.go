// Package mqtt provides MQTT client connectivity for Beamline Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// Core reaches the accelerator control system through a value gateway that
// mirrors process variables onto retained MQTT topics and executes writes
// published on a put topic. Screen events are published back on the same
// broker for other consumers.
//
//	Beamline Core <-> MQTT Broker <-> PV gateway <-> control system
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Prefix: cfg.Control.TopicPrefix})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.PVValue("YAG:IN20:241:TGT_STS"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("%s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
