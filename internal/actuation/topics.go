package actuation

import (
	"fmt"
	"strings"
)

// Topic layout, one channel pair per device:
//
//	devices/{device_id}/control  server -> device commands
//	devices/{device_id}/state    device -> server relay state reports
const (
	topicPrefix      = "devices"
	commandSuffix    = "control"
	stateSuffix      = "state"
	stateTopicFilter = topicPrefix + "/+/" + stateSuffix
)

// CommandTopic returns the command topic for a device.
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", topicPrefix, deviceID, commandSuffix)
}

// StateTopicFilter returns the wildcard subscription covering every device's
// state topic.
func StateTopicFilter() string {
	return stateTopicFilter
}

// DeviceIDFromStateTopic extracts the device id from a state report topic.
func DeviceIDFromStateTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != topicPrefix || parts[2] != stateSuffix {
		return "", fmt.Errorf("unexpected state topic %q", topic)
	}
	if parts[1] == "" {
		return "", fmt.Errorf("empty device id in state topic %q", topic)
	}
	return parts[1], nil
}
