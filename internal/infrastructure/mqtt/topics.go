package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Multigate MQTT surface.
//
// Item topics use the flat scheme: multigate/item/{item}/{suffix}.
// Item identifiers are dotted paths ("av.projector.power") and never
// contain "/", so each item occupies exactly one topic level.
const (
	// TopicPrefix is the base for all Multigate topics.
	TopicPrefix = "multigate"

	// TopicPrefixItem is the base for item topics.
	TopicPrefixItem = "multigate/item"

	// TopicPrefixDevice is the base for per-device topics.
	TopicPrefixDevice = "multigate/device"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "multigate/system"
)

// Topics provides builders for Multigate MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.ItemState("av.projector.power")
//	// Returns: "multigate/item/av.projector.power/state"
type Topics struct{}

// =============================================================================
// Item Topics
// =============================================================================

// ItemState returns the topic where the gateway publishes item values.
// Published retained so new subscribers see the last known value.
//
// Example: multigate/item/av.projector.power/state
func (Topics) ItemState(item string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixItem, item)
}

// ItemSet returns the topic the host writes item values to.
//
// Example: multigate/item/av.projector.power/set
func (Topics) ItemSet(item string) string {
	return fmt.Sprintf("%s/%s/set", TopicPrefixItem, item)
}

// ItemRead returns the topic that requests a fresh device read of an item.
//
// Example: multigate/item/av.projector.power/read
func (Topics) ItemRead(item string) string {
	return fmt.Sprintf("%s/%s/read", TopicPrefixItem, item)
}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceAvailability returns the topic for device online/offline state.
// Published retained.
//
// Example: multigate/device/beamer/availability
func (Topics) DeviceAvailability(device string) string {
	return fmt.Sprintf("%s/%s/availability", TopicPrefixDevice, device)
}

// DeviceReadAll returns the topic that triggers a read of every readable
// command of a device.
//
// Example: multigate/device/beamer/read_all
func (Topics) DeviceReadAll(device string) string {
	return fmt.Sprintf("%s/%s/read_all", TopicPrefixDevice, device)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the gateway status topic, also used for the LWT.
//
// Example: multigate/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllItemSets returns a pattern matching all item writes from the host.
//
// Pattern: multigate/item/+/set
func (Topics) AllItemSets() string {
	return fmt.Sprintf("%s/+/set", TopicPrefixItem)
}

// AllItemReads returns a pattern matching all item read requests.
//
// Pattern: multigate/item/+/read
func (Topics) AllItemReads() string {
	return fmt.Sprintf("%s/+/read", TopicPrefixItem)
}

// AllDeviceReadAlls returns a pattern matching all read-all triggers.
//
// Pattern: multigate/device/+/read_all
func (Topics) AllDeviceReadAlls() string {
	return fmt.Sprintf("%s/+/read_all", TopicPrefixDevice)
}

// AllTopics returns a pattern matching all Multigate topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: multigate/#
func (Topics) AllTopics() string {
	return "multigate/#"
}

// =============================================================================
// Topic Parsing
// =============================================================================

// ItemFromTopic extracts the item identifier from an item topic
// (multigate/item/{item}/{suffix}).
//
// Returns:
//   - string: The item identifier
//   - bool: false if the topic is not an item topic
func (Topics) ItemFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "item" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// DeviceFromTopic extracts the device identifier from a device topic
// (multigate/device/{device}/{suffix}).
//
// Returns:
//   - string: The device identifier
//   - bool: false if the topic is not a device topic
func (Topics) DeviceFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "device" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
