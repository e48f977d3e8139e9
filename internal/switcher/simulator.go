package switcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/config"
)

// SimulatorName is reported by Simulator.Name.
const SimulatorName = "simulated"

// Simulator is an in-memory Adapter standing in for physical devices.
//
// It keeps device state between calls the way real devices would; the
// facade itself stays stateless. Used for dev mode, as the device source of
// the in-process bridge responder, and in tests.
//
// Thread Safety: All methods are safe for concurrent use.
type Simulator struct {
	mu      sync.Mutex
	order   []string
	devices map[string]*simDevice
}

type simDevice struct {
	status      DeviceStatus
	key         string
	unreachable bool
}

// NewSimulator creates a simulator seeded from configuration, in config order.
func NewSimulator(devices []config.SimulatedDeviceConfig) (*Simulator, error) {
	s := &Simulator{devices: make(map[string]*simDevice, len(devices))}

	for i, d := range devices {
		ref, err := ParseDeviceRef(d.ID)
		if err != nil {
			return nil, fmt.Errorf("simulated device %d: %w", i, err)
		}
		if ref.IsAddress() {
			return nil, fmt.Errorf("simulated device %d: id must be a device id, not an address", i)
		}
		id := ref.String()
		if _, dup := s.devices[id]; dup {
			return nil, fmt.Errorf("simulated device %d: duplicate id %s", i, id)
		}

		dev := &simDevice{
			status: DeviceStatus{
				DeviceID: id,
				Name:     d.Name,
				Type:     DeviceType(d.Type),
				Host:     d.Host,
				State:    ParseDeviceState(d.State),
			},
			key:         d.Key,
			unreachable: d.Unreachable,
		}
		if dev.status.Type == "" {
			dev.status.Type = TypeWaterHeater
		}
		if d.Temperature != 0 {
			temp := d.Temperature
			dev.status.Temperature = &temp
		}
		if dev.status.Type == TypeBreeze {
			dev.status.Thermostat = &ThermostatStatus{
				Mode:              breezeOffMode,
				TargetTemperature: breezeOffTemperature,
				FanLevel:          breezeOffFan,
				Swing:             SwingOff,
			}
		}

		s.devices[id] = dev
		s.order = append(s.order, id)
	}

	return s, nil
}

// Name implements Adapter.
func (s *Simulator) Name() string {
	return SimulatorName
}

// Discover implements Adapter. Simulated devices announce immediately, so
// the window only matters when nothing is reachable.
func (s *Simulator) Discover(ctx context.Context, _ time.Duration) (*DeviceStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewDeviceError(KindTimeout, ActionStatus, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		dev := s.devices[id]
		if dev.unreachable {
			continue
		}
		return dev.snapshot(), nil
	}

	return nil, NewDeviceError(KindNotFound, ActionStatus, "", nil)
}

// Locate implements Adapter. References match a device id or its host.
func (s *Simulator) Locate(ctx context.Context, ref DeviceRef) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewDeviceError(KindTimeout, ActionStatus, ref.String(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dev := s.lookup(ref)
	if dev == nil || dev.unreachable {
		return nil, NewDeviceError(KindUnreachable, ActionStatus, ref.String(), nil)
	}

	return &Session{
		DeviceID: dev.status.DeviceID,
		Host:     dev.status.Host,
		Type:     dev.status.Type,
		Name:     dev.status.Name,
		Key:      dev.key,
	}, nil
}

// Send implements Adapter.
func (s *Simulator) Send(ctx context.Context, session *Session, cmd Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewDeviceError(KindTimeout, cmd.Action, session.DeviceID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[session.DeviceID]
	if !ok || dev.unreachable {
		return nil, NewDeviceError(KindUnreachable, cmd.Action, session.DeviceID, nil)
	}

	switch cmd.Action {
	case ActionOn:
		dev.status.State = StateOn
		dev.status.RemainingSeconds = nil
		if cmd.Params.TimerMinutes > 0 {
			remaining := cmd.Params.TimerMinutes * 60
			dev.status.RemainingSeconds = &remaining
		}
	case ActionOff:
		dev.status.State = StateOff
		dev.status.RemainingSeconds = nil
	case ActionStatus, ActionTemperature:
	default:
		return nil, NewDeviceError(KindRejected, cmd.Action, session.DeviceID, fmt.Errorf("unsupported action %q", cmd.Action))
	}

	return &Result{
		Action: cmd.Action,
		State:  dev.status.State,
		Status: dev.snapshot(),
	}, nil
}

// ControlBreeze implements Adapter. The device key must match when the
// simulated device has one configured.
func (s *Simulator) ControlBreeze(ctx context.Context, cmd BreezeCommand) error {
	if err := ctx.Err(); err != nil {
		return NewDeviceError(KindTimeout, ActionBreeze, cmd.DeviceID.String(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[cmd.DeviceID.String()]
	if !ok || dev.unreachable {
		return NewDeviceError(KindUnreachable, ActionBreeze, cmd.DeviceID.String(), nil)
	}
	if dev.status.Type != TypeBreeze {
		return NewDeviceError(KindRejected, ActionBreeze, cmd.DeviceID.String(), fmt.Errorf("device is a %s, not a breeze", dev.status.Type))
	}
	if dev.key != "" && dev.key != cmd.DeviceKey {
		return NewDeviceError(KindRejected, ActionBreeze, cmd.DeviceID.String(), fmt.Errorf("device key mismatch"))
	}

	dev.status.State = cmd.State
	dev.status.Thermostat = &ThermostatStatus{
		Mode:              cmd.Mode,
		TargetTemperature: cmd.Temperature,
		FanLevel:          cmd.FanLevel,
		Swing:             cmd.Swing,
	}
	return nil
}

// SetReachable toggles whether a simulated device answers.
func (s *Simulator) SetReachable(id string, reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dev, ok := s.devices[id]; ok {
		dev.unreachable = !reachable
	}
}

// lookup finds a device by id or host. Callers hold s.mu.
func (s *Simulator) lookup(ref DeviceRef) *simDevice {
	if dev, ok := s.devices[ref.String()]; ok {
		return dev
	}
	if !ref.IsAddress() {
		return nil
	}
	for _, id := range s.order {
		if s.devices[id].status.Host == ref.String() {
			return s.devices[id]
		}
	}
	return nil
}

// snapshot copies the status so callers never share pointers with the simulator.
func (d *simDevice) snapshot() *DeviceStatus {
	out := d.status
	if d.status.Temperature != nil {
		v := *d.status.Temperature
		out.Temperature = &v
	}
	if d.status.RemainingSeconds != nil {
		v := *d.status.RemainingSeconds
		out.RemainingSeconds = &v
	}
	if d.status.Thermostat != nil {
		v := *d.status.Thermostat
		out.Thermostat = &v
	}
	return &out
}
