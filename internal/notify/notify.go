// Package notify publishes assistant notifications to an MQTT broker.
// The publish_notice trigger handler uses it to fan messages out to
// whatever is listening on the configured topic prefix (dashboards,
// automations, phones).
package notify

import "context"

// Publisher is the narrow interface handlers depend on. The production
// implementation is MQTTPublisher; tests substitute a recorder.
type Publisher interface {
	// Publish sends payload to the named channel (topic suffix).
	Publish(ctx context.Context, channel string, payload []byte) error
}
