package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/iyuvalk/switcher-breeze-rest/internal/switcher"
)

// handleBreezeControl serves POST /breeze/control.
//
// Body keys: device_id, device_key, remote_id, state (ON/OFF) and, for ON,
// mode, temp and fan. ip is optional.
func (s *Server) handleBreezeControl(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		msg := "request body must be a JSON object"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg = "request body too large"
		}
		verr := &switcher.ValidationError{Code: switcher.CodeInvalidBody, Message: msg}
		s.record(r.Context(), "", switcher.ActionBreeze, nil, nil, verr, 0)
		writeFailure(w, verr)
		return
	}

	cmd, err := switcher.ParseBreezeCommand(body, s.breezeHost)
	if err != nil {
		device, _ := body["device_id"].(string) //nolint:errcheck // non-string ids are not journalled
		s.record(r.Context(), device, switcher.ActionBreeze, nil, nil, err, 0)
		writeFailure(w, err)
		return
	}

	start := time.Now()
	err = s.adapter.ControlBreeze(r.Context(), cmd)
	elapsed := time.Since(start)

	params := map[string]any{
		"host":        cmd.Host,
		"remote_id":   cmd.RemoteID,
		"state":       cmd.State,
		"mode":        cmd.Mode,
		"temperature": cmd.Temperature,
		"fan":         cmd.FanLevel,
	}
	var result *switcher.Result
	if err == nil {
		result = &switcher.Result{Action: switcher.ActionBreeze, State: cmd.State}
	}
	s.record(r.Context(), cmd.DeviceID.String(), switcher.ActionBreeze, params, result, err, elapsed)

	if err != nil {
		s.logDeviceError(r.Context(), cmd.DeviceID.String(), switcher.ActionBreeze, err)
		writeFailure(w, err)
		return
	}

	s.logger.Info("breeze command sent",
		"device_id", cmd.DeviceID,
		"host", cmd.Host,
		"state", cmd.State,
		"mode", cmd.Mode,
		"temperature", cmd.Temperature,
		"request_id", requestIDFrom(r.Context()),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
