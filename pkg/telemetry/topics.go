package telemetry

// Topic names published by the plugin.

// TopicDetections carries the JSON detection report.
const TopicDetections = "object.detections"

// TopicTiming carries the JSON timing report (extended variant).
const TopicTiming = "plugin.timing"

// TopicError carries the JSON error report.
const TopicError = "plugin.error"

// TopicTestMessage carries a plain-text liveness message (base variant).
const TopicTestMessage = "test.message"

// TopicUpload carries uploaded files on buses without a native upload.
const TopicUpload = "upload"

// Topics builds fully-qualified topic names.
type Topics struct {
	prefix string
}

// NewTopics creates a Topics helper with the given prefix.
func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

// Full returns topic with the prefix applied.
func (t *Topics) Full(topic string) string {
	if t == nil || t.prefix == "" {
		return topic
	}
	return t.prefix + "/" + topic
}

// Upload returns the full upload topic.
func (t *Topics) Upload() string {
	return t.Full(TopicUpload)
}
