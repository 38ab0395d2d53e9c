package envelope

import "strings"

// Topic name prefixes.
const (
	TaskTopicPrefix = "task:"
	UserTopicPrefix = "user:"
)

// TaskTopic returns the per-task topic for an execution id.
func TaskTopic(id string) string {
	return TaskTopicPrefix + id
}

// UserTopic returns the global per-identity topic.
func UserTopic(id string) string {
	return UserTopicPrefix + id
}

// TaskIDFromTopic extracts the execution id from a per-task topic.
func TaskIDFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, TaskTopicPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
