package mqtt

import "fmt"

// Topic layout: insteon/{category}/{suffix}. Events carry the device ID as
// the suffix; bridge lifecycle state lives on a single retained topic.
const (
	topicPrefix = "insteon"

	// StatusTopic carries the bridge's retained online/offline state and
	// doubles as the Last Will topic.
	StatusTopic = topicPrefix + "/bridge/status"

	// HubStatusTopic carries the retained hub-connectivity payload, the
	// same document WebSocket clients receive as "bridgestatus".
	HubStatusTopic = topicPrefix + "/bridge/hub"
)

// EventTopic returns the topic device state events are mirrored onto.
//
// Example: insteon/event/AB12CD
func EventTopic(deviceID string) string {
	return fmt.Sprintf("%s/event/%s", topicPrefix, deviceID)
}
