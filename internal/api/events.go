package api

import (
	"time"

	"github.com/iyuvalk/switcher-breeze-rest/internal/journal"
)

// EventDeviceCommand is the WebSocket channel (and event type) carrying
// one CommandEvent per device call.
const EventDeviceCommand = "device.command"

// CommandEvent describes a finished device call. It never carries device keys.
type CommandEvent struct {
	RequestID  string `json:"request_id,omitempty"`
	DeviceID   string `json:"device_id"`
	Action     string `json:"action"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	State      string `json:"state,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// publishEvent fans a command event out to WebSocket subscribers and, when
// configured, to {prefix}/events/{device_id} on MQTT.
func (s *Server) publishEvent(entry *journal.Entry, code string) {
	if entry.DeviceID == "" {
		return
	}

	event := CommandEvent{
		RequestID:  entry.RequestID,
		DeviceID:   entry.DeviceID,
		Action:     entry.Action,
		Outcome:    entry.Outcome,
		Error:      code,
		State:      entry.State,
		DurationMS: entry.DurationMS,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	s.hub.Broadcast(EventDeviceCommand, event)

	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(s.topics.Event(entry.DeviceID), event); err != nil {
		s.metrics.eventsDropped.Inc()
		s.logger.Debug("event publish failed",
			"device_id", entry.DeviceID,
			"error", err,
		)
	}
}
