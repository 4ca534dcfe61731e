// Package mqtt provides MQTT connectivity for DeviceHub Core.
//
// MQTT is optional. When enabled it carries three flows:
//   - device announcements on devicehub/announce/{type}, consumed by the
//     discovery package and turned into registrations
//   - heartbeats on devicehub/heartbeat/{id}, turned into status updates
//   - lifecycle events on devicehub/events/{event}/{id}, published by the
//     mqtt_events plugin
//
// The client publishes a retained online message on devicehub/system/status
// at connect, a graceful offline message on Close, and registers a Last Will
// so the broker announces an unexpected disconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllHeartbeats(), 1,
//	    func(topic string, payload []byte) error {
//	        id := mqtt.LastSegment(topic)
//	        ...
//	    })
package mqtt
