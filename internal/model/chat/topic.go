package chat

import (
	"fmt"
	"strings"
)

// NotificationsTopic is the channel topic carrying push notifications.
const NotificationsTopic = "notifications"

const roomTopicPrefix = "chat:"

// Topic returns the channel topic for a chat room.
func Topic(room string) string {
	return roomTopicPrefix + room
}

// RoomFromTopic extracts the room name from a chat topic.
func RoomFromTopic(topic string) (string, error) {
	room, ok := strings.CutPrefix(topic, roomTopicPrefix)
	if !ok || room == "" {
		return "", fmt.Errorf("not a chat topic: %q", topic)
	}
	return room, nil
}

// ValidRoomName reports whether name can be used as a room: non-empty,
// no whitespace, no path separators.
func ValidRoomName(name string) bool {
	if name == "" || len(name) > 100 {
		return false
	}
	return !strings.ContainsAny(name, " \t\r\n/?#")
}

// TopicPath returns the WebSocket path serving a topic:
// /ws/notifications/ or /ws/chat/<room>/.
func TopicPath(topic string) string {
	if room, err := RoomFromTopic(topic); err == nil {
		return "/ws/chat/" + room + "/"
	}
	return "/ws/" + topic + "/"
}
