package mqtt

import "strings"

// Topic roots.
const (
	TopicPrefix       = "devicehub"
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics builds DeviceHub MQTT topic names.
//
//	devicehub/announce/{type}         inbound registrations
//	devicehub/heartbeat/{device_id}   inbound status updates
//	devicehub/events/{event}/{id}     outbound lifecycle events
//	devicehub/system/status           retained service status (LWT)
type Topics struct{}

// Announce returns the registration topic for a device type.
func (Topics) Announce(deviceType string) string {
	return TopicPrefix + "/announce/" + deviceType
}

// Heartbeat returns the status update topic for a device.
func (Topics) Heartbeat(deviceID string) string {
	return TopicPrefix + "/heartbeat/" + deviceID
}

// Event returns the topic a lifecycle event for a device is published on.
func (Topics) Event(event, deviceID string) string {
	return TopicPrefix + "/events/" + event + "/" + deviceID
}

// SystemStatus returns the retained service status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllAnnouncements matches every announce topic.
func (Topics) AllAnnouncements() string {
	return TopicPrefix + "/announce/+"
}

// AllHeartbeats matches every heartbeat topic.
func (Topics) AllHeartbeats() string {
	return TopicPrefix + "/heartbeat/+"
}

// AllEvents matches every outbound event.
func (Topics) AllEvents() string {
	return TopicPrefix + "/events/#"
}

// LastSegment returns the final level of a topic, e.g. the device id of a
// heartbeat or the type of an announcement.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
