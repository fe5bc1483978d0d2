// Package mqtt provides MQTT client connectivity for HomeNet.
//
// HomeNet does not drive the Z-Wave controller itself. A Z-Wave gateway
// owns the USB stick and mirrors its node table onto an MQTT broker; the
// core talks to the gateway through this client:
//
//	HomeNet core ↔ MQTT broker ↔ Z-Wave gateway ↔ Z-Wave network
//
// The package manages:
//   - Connection with auto-reconnect and subscription restore
//   - Publishing with QoS acknowledgement
//   - Wildcard subscriptions with panic-safe handlers
//   - A retained online/offline status with a last will
//   - Topic builders for the gateway's topic tree (ZWaveTopics)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.ZWaveTopics(cfg.ZWave.TopicPrefix)
//	err = client.Subscribe(topics.AllValues(), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
