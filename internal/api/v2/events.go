package api

import (
	"context"
	"time"

	"github.com/skyhub/skyhub-go/internal/facility"
	"github.com/skyhub/skyhub-go/internal/mqtt"
	"github.com/skyhub/skyhub-go/internal/notification"
)

// mqttPublishTimeout bounds event publishes so a slow broker never holds
// up a request handler.
const mqttPublishTimeout = 5 * time.Second

// EventBridge fans facility lifecycle events out to the SSE stream and the
// notification service. It satisfies facility.Events so integrations never
// talk to a transport directly.
type EventBridge struct {
	controller *Controller
}

// EventBridge returns the controller's facility event sink.
func (c *Controller) EventBridge() facility.Events {
	return &EventBridge{controller: c}
}

// RefreshSource tells clients watching an object to reload it.
func (b *EventBridge) RefreshSource(objID string) {
	b.controller.sse.Broadcast(SSEEvent{
		Type: EventRefreshSource,
		Data: map[string]string{"objID": objID},
	}, 0)
}

// RefreshFollowupRequests tells the requester's clients to reload their
// followup request list.
func (b *EventBridge) RefreshFollowupRequests(userID uint) {
	b.controller.sse.Broadcast(SSEEvent{
		Type: EventRefreshFollowupRequests,
	}, userID)
}

// Notify pushes a user-visible notification through the notification
// service and mirrors it on the user's event stream.
func (b *EventBridge) Notify(userID uint, message, level string) {
	priority := notification.PriorityMedium
	notifType := notification.TypeInfo
	switch level {
	case "warning":
		notifType = notification.TypeWarning
		priority = notification.PriorityHigh
	case "error":
		notifType = notification.TypeError
		priority = notification.PriorityHigh
	}

	if b.controller.Notifier != nil {
		if _, err := b.controller.Notifier.CreateForUser(userID, notifType, priority, "Observatory update", message); err != nil {
			b.controller.apiLogger.Warn("failed to store facility notification", "error", err)
		}
	}

	b.controller.sse.Broadcast(SSEEvent{
		Type: EventShowNotification,
		Data: map[string]string{"message": message, "level": level},
	}, userID)
}

// publishFollowupEvent pushes a followup request event onto the MQTT bus.
// A missing or disconnected client is not an error; the event stream is
// best effort.
func (c *Controller) publishFollowupEvent(ctx context.Context, dto *mqtt.FollowupEventDTO) {
	if c.MQTT == nil || !c.MQTT.IsConnected() {
		return
	}

	payload, err := dto.JSON()
	if err != nil {
		c.apiLogger.Warn("failed to encode MQTT event", "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, mqttPublishTimeout)
	defer cancel()
	topic := mqtt.FollowupTopic(c.Settings.Realtime.MQTT.Topic)
	if err := c.MQTT.Publish(pubCtx, topic, payload); err != nil {
		c.apiLogger.Warn("MQTT publish failed", "topic", topic, "error", err)
	}
}

// publishSpectrumEvent pushes a spectrum event onto the MQTT bus.
func (c *Controller) publishSpectrumEvent(ctx context.Context, dto *mqtt.SpectrumEventDTO) {
	if c.MQTT == nil || !c.MQTT.IsConnected() {
		return
	}

	payload, err := dto.JSON()
	if err != nil {
		c.apiLogger.Warn("failed to encode MQTT event", "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, mqttPublishTimeout)
	defer cancel()
	topic := mqtt.SpectraTopic(c.Settings.Realtime.MQTT.Topic)
	if err := c.MQTT.Publish(pubCtx, topic, payload); err != nil {
		c.apiLogger.Warn("MQTT publish failed", "topic", topic, "error", err)
	}
}
