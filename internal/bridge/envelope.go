package bridge

import (
	"time"

	"github.com/iyuvalk/switcher-breeze-rest/internal/switcher"
)

// Request operations. Each is published on {prefix}/request/{op}.
const (
	OpDiscover = "discover"
	OpLocate   = "locate"
	OpSend     = "send"
	OpBreeze   = "breeze"
)

// Request is the envelope published to the bridge.
type Request struct {
	ID       string       `json:"id"`
	Op       string       `json:"op"`
	SentAt   time.Time    `json:"sent_at"`
	Device   string       `json:"device,omitempty"`
	WindowMS int64        `json:"window_ms,omitempty"`
	Session  *WireSession `json:"session,omitempty"`
	Command  *WireCommand `json:"command,omitempty"`
	Breeze   *WireBreeze  `json:"breeze,omitempty"`
}

// Response is the envelope the bridge publishes back.
type Response struct {
	ID      string                 `json:"id"`
	OK      bool                   `json:"ok"`
	Error   *WireError             `json:"error,omitempty"`
	Session *WireSession           `json:"session,omitempty"`
	Result  *switcher.Result       `json:"result,omitempty"`
	Status  *switcher.DeviceStatus `json:"status,omitempty"`
}

// WireError carries an adapter failure across the bridge.
// Kind is one of the switcher.ErrorKind values.
type WireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WireSession is switcher.Session including the device key, which the
// domain type keeps out of JSON.
type WireSession struct {
	DeviceID string              `json:"device_id"`
	Host     string              `json:"host,omitempty"`
	Type     switcher.DeviceType `json:"type,omitempty"`
	Name     string              `json:"name,omitempty"`
	Key      string              `json:"key,omitempty"`
}

// WireCommand is a switcher.Command on the wire.
type WireCommand struct {
	Device       string          `json:"device"`
	Action       switcher.Action `json:"action"`
	TimerMinutes int             `json:"timer_minutes,omitempty"`
}

// WireBreeze is a switcher.BreezeCommand including the device key.
type WireBreeze struct {
	Host        string                  `json:"host"`
	DeviceID    string                  `json:"device_id"`
	DeviceKey   string                  `json:"device_key"`
	RemoteID    string                  `json:"remote_id"`
	State       switcher.DeviceState    `json:"state"`
	Mode        switcher.ThermostatMode `json:"mode"`
	Temperature int                     `json:"temperature"`
	FanLevel    switcher.FanLevel       `json:"fan_level"`
	Swing       switcher.Swing          `json:"swing"`
}

func toWireSession(s *switcher.Session) *WireSession {
	if s == nil {
		return nil
	}
	return &WireSession{DeviceID: s.DeviceID, Host: s.Host, Type: s.Type, Name: s.Name, Key: s.Key}
}

func (w *WireSession) session() *switcher.Session {
	return &switcher.Session{DeviceID: w.DeviceID, Host: w.Host, Type: w.Type, Name: w.Name, Key: w.Key}
}

func toWireCommand(c switcher.Command) *WireCommand {
	return &WireCommand{Device: c.Device.String(), Action: c.Action, TimerMinutes: c.Params.TimerMinutes}
}

func (w *WireCommand) command() switcher.Command {
	return switcher.Command{
		Device: switcher.DeviceRef(w.Device),
		Action: w.Action,
		Params: switcher.Params{TimerMinutes: w.TimerMinutes},
	}
}

func toWireBreeze(b switcher.BreezeCommand) *WireBreeze {
	return &WireBreeze{
		Host:        b.Host,
		DeviceID:    b.DeviceID.String(),
		DeviceKey:   b.DeviceKey,
		RemoteID:    b.RemoteID,
		State:       b.State,
		Mode:        b.Mode,
		Temperature: b.Temperature,
		FanLevel:    b.FanLevel,
		Swing:       b.Swing,
	}
}

func (w *WireBreeze) command() switcher.BreezeCommand {
	return switcher.BreezeCommand{
		Host:        w.Host,
		DeviceID:    switcher.DeviceRef(w.DeviceID),
		DeviceKey:   w.DeviceKey,
		RemoteID:    w.RemoteID,
		State:       w.State,
		Mode:        w.Mode,
		Temperature: w.Temperature,
		FanLevel:    w.FanLevel,
		Swing:       w.Swing,
	}
}
