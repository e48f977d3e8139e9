package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iyuvalk/switcher-breeze-rest/internal/journal"
	"github.com/iyuvalk/switcher-breeze-rest/internal/switcher"
)

// maxJournalDeviceLength truncates unvalidated device strings before they
// are recorded.
const maxJournalDeviceLength = 64

// actionInvalid replaces an unrecognised path action in metrics labels and
// the journal.
const actionInvalid switcher.Action = "invalid"

// commandResponse is the body of a successful POST /devices/{device}/{action}.
type commandResponse struct {
	Status   string                 `json:"status"`
	DeviceID string                 `json:"device_id"`
	Action   switcher.Action        `json:"action"`
	State    switcher.DeviceState   `json:"state"`
	Timer    int                    `json:"timer_minutes,omitempty"`
	Device   *switcher.DeviceStatus `json:"device,omitempty"`
}

// handleDeviceStatus serves GET /devices/{device}/status.
//
// The device is located and queried on every request; nothing is cached.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "device")

	cmd, err := switcher.ParseStatusCommand(raw)
	if err != nil {
		s.record(r.Context(), raw, switcher.ActionStatus, nil, nil, err, 0)
		writeFailure(w, err)
		return
	}

	result, err := s.execute(r.Context(), cmd)
	if err != nil {
		writeFailure(w, err)
		return
	}

	status := result.Status
	if status == nil {
		status = &switcher.DeviceStatus{DeviceID: cmd.Device.String(), State: result.State}
	}
	writeJSON(w, http.StatusOK, status)
}

// handleDeviceCommand serves POST /devices/{device}/{action}. Only on and
// off change device state; on accepts ?timer=<minutes>.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "device")
	rawAction := chi.URLParam(r, "action")

	cmd, err := switcher.ParseCommand(raw, rawAction, r.URL.Query())
	if err != nil {
		action, actionErr := switcher.ParseAction(rawAction)
		if actionErr != nil {
			action = actionInvalid
		}
		s.record(r.Context(), raw, action, nil, nil, err, 0)
		writeFailure(w, err)
		return
	}

	result, err := s.execute(r.Context(), cmd)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, commandResponse{
		Status:   "success",
		DeviceID: cmd.Device.String(),
		Action:   cmd.Action,
		State:    result.State,
		Timer:    cmd.Params.TimerMinutes,
		Device:   result.Status,
	})
}

// handleDiscoverState serves GET /devices/state: the state of the first
// device heard during the discovery window.
func (s *Server) handleDiscoverState(w http.ResponseWriter, r *http.Request) {
	status, err := s.discover(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":     status.State,
		"device_id": status.DeviceID,
	})
}

// handleDiscoverTemperature serves GET /devices/temperature. A device that
// reports no temperature yields "temperature": null.
func (s *Server) handleDiscoverTemperature(w http.ResponseWriter, r *http.Request) {
	status, err := s.discover(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"temperature": status.Temperature,
		"device_id":   status.DeviceID,
	})
}

// execute locates the device and sends cmd, recording the outcome.
func (s *Server) execute(ctx context.Context, cmd switcher.Command) (*switcher.Result, error) {
	start := time.Now()

	session, err := s.adapter.Locate(ctx, cmd.Device)
	var result *switcher.Result
	if err == nil {
		result, err = s.adapter.Send(ctx, session, cmd)
	}
	elapsed := time.Since(start)

	var params map[string]any
	if cmd.Params.TimerMinutes > 0 {
		params = map[string]any{"timer_minutes": cmd.Params.TimerMinutes}
	}
	s.record(ctx, cmd.Device.String(), cmd.Action, params, result, err, elapsed)

	if err != nil {
		s.logDeviceError(ctx, cmd.Device.String(), cmd.Action, err)
		return nil, err
	}
	return result, nil
}

// discover scans for the first announcing device.
func (s *Server) discover(ctx context.Context) (*switcher.DeviceStatus, error) {
	start := time.Now()
	status, err := s.adapter.Discover(ctx, s.discoveryWindow)
	elapsed := time.Since(start)

	if err == nil && status == nil {
		err = switcher.NewDeviceError(switcher.KindNotFound, switcher.ActionStatus, "", nil)
	}

	device := ""
	if status != nil {
		device = status.DeviceID
	}
	outcome, code := outcomeOf(err)
	s.metrics.observeDevice("discover", outcome, code, elapsed)

	if err != nil {
		s.logDeviceError(ctx, "", switcher.ActionStatus, err)
		return nil, err
	}

	s.telemetry.WriteDeviceStatus(status)
	s.logger.Debug("discovery finished",
		"device_id", device,
		"duration_ms", elapsed.Milliseconds(),
		"request_id", requestIDFrom(ctx),
	)
	return status, nil
}

// record reports one device call to metrics, the journal, telemetry and
// the event stream.
func (s *Server) record(ctx context.Context, device string, action switcher.Action, params map[string]any, result *switcher.Result, err error, elapsed time.Duration) {
	if len(device) > maxJournalDeviceLength {
		device = device[:maxJournalDeviceLength]
	}

	var state switcher.DeviceState
	if result != nil {
		state = result.State
	}

	entry := journal.Record(requestIDFrom(ctx), device, action, params, state, err, elapsed)
	_, code := outcomeOf(err)
	s.metrics.observeDevice(string(action), entry.Outcome, code, elapsed)

	if device == "" {
		return
	}
	s.journal.Enqueue(entry)

	if entry.Outcome == journal.OutcomeInvalid {
		return
	}
	s.telemetry.WriteCommand(device, action, entry.Outcome, elapsed)
	if result != nil {
		s.telemetry.WriteDeviceStatus(result.Status)
	}
	s.publishEvent(entry, code)
}

// outcomeOf returns the journal outcome and response error code for err.
func outcomeOf(err error) (string, string) {
	if err == nil {
		return journal.OutcomeSuccess, ""
	}
	_, code := mapError(err)
	if errors.Is(err, switcher.ErrInvalidRequest) {
		return journal.OutcomeInvalid, code
	}
	return journal.OutcomeFailed, code
}

func (s *Server) logDeviceError(ctx context.Context, device string, action switcher.Action, err error) {
	status, code := mapError(err)
	level := s.logger.Warn
	if status == http.StatusInternalServerError {
		level = s.logger.Error
	}
	level("device call failed",
		"device_id", device,
		"action", action,
		"code", code,
		"error", err,
		"request_id", requestIDFrom(ctx),
	)
}
