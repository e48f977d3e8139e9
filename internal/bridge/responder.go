package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/mqtt"
	"github.com/iyuvalk/switcher-breeze-rest/internal/switcher"
)

// maxDiscoveryWindow caps the scan window a request may ask for.
const maxDiscoveryWindow = time.Minute

// Responder serves bridge requests from a switcher.Adapter.
//
// Each request runs in its own goroutine so a long discovery scan does not
// hold up the MQTT client's message router.
type Responder struct {
	transport Transport
	topics    mqtt.Topics
	qos       byte
	timeout   time.Duration
	adapter   switcher.Adapter
	logger    *logging.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewResponder creates a responder answering with adapter.
func NewResponder(transport Transport, adapter switcher.Adapter, opts Options) *Responder {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Topics.Prefix == "" {
		opts.Topics = mqtt.NewTopics("")
	}
	return &Responder{
		transport: transport,
		topics:    opts.Topics,
		qos:       opts.QoS,
		timeout:   opts.Timeout,
		adapter:   adapter,
		logger:    opts.Logger.With("component", "bridge-responder", "adapter", adapter.Name()),
	}
}

// Start subscribes to the request topics and announces the bridge online.
func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())

	if err := r.transport.Subscribe(r.topics.AllRequests(), r.qos, r.handleRequest); err != nil {
		r.cancel()
		return fmt.Errorf("subscribing to bridge requests: %w", err)
	}
	if err := r.transport.Publish(r.topics.BridgeStatus(), []byte(`{"status":"online"}`), r.qos, true); err != nil {
		r.logger.Warn("publishing bridge status failed", "error", err)
	}

	r.started = true
	r.logger.Info("bridge responder started", "requests", r.topics.AllRequests())
	return nil
}

// Stop unsubscribes, cancels in-flight requests and waits for them to finish.
func (r *Responder) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.cancel()
	r.mu.Unlock()

	if r.transport.IsConnected() {
		if err := r.transport.Unsubscribe(r.topics.AllRequests()); err != nil {
			r.logger.Warn("unsubscribing bridge requests failed", "error", err)
		}
		if err := r.transport.Publish(r.topics.BridgeStatus(), []byte(`{"status":"offline"}`), r.qos, true); err != nil {
			r.logger.Warn("publishing bridge status failed", "error", err)
		}
	}

	r.wg.Wait()
	r.logger.Info("bridge responder stopped")
}

func (r *Responder) handleRequest(topic string, payload []byte) error {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decoding bridge request on %s: %w", topic, err)
	}
	if req.ID == "" {
		return fmt.Errorf("bridge request on %s has no id", topic)
	}
	if req.Op == "" {
		req.Op = mqtt.LastSegment(topic)
	}

	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	ctx := r.ctx
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		resp := r.serve(ctx, &req)
		resp.ID = req.ID
		if err := r.publish(resp); err != nil {
			r.logger.Warn("publishing bridge response failed", "id", req.ID, "op", req.Op, "error", err)
		}
	}()
	return nil
}

func (r *Responder) publish(resp *Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding bridge response: %w", err)
	}
	return r.transport.Publish(r.topics.Response(resp.ID), payload, r.qos, false)
}

// serve executes one request against the adapter.
func (r *Responder) serve(parent context.Context, req *Request) *Response {
	timeout := r.timeout
	window := time.Duration(req.WindowMS) * time.Millisecond
	if req.Op == OpDiscover {
		if window <= 0 || window > maxDiscoveryWindow {
			return failure(switcher.KindRejected, fmt.Sprintf("discovery window must be between 1ms and %s", maxDiscoveryWindow))
		}
		timeout += window
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	switch req.Op {
	case OpDiscover:
		status, err := r.adapter.Discover(ctx, window)
		if err != nil {
			return errorResponse(err)
		}
		return &Response{OK: true, Status: status}

	case OpLocate:
		ref, err := switcher.ParseDeviceRef(req.Device)
		if err != nil {
			return failure(switcher.KindRejected, err.Error())
		}
		session, err := r.adapter.Locate(ctx, ref)
		if err != nil {
			return errorResponse(err)
		}
		return &Response{OK: true, Session: toWireSession(session)}

	case OpSend:
		if req.Session == nil || req.Command == nil {
			return failure(switcher.KindRejected, "send requires session and command")
		}
		result, err := r.adapter.Send(ctx, req.Session.session(), req.Command.command())
		if err != nil {
			return errorResponse(err)
		}
		return &Response{OK: true, Result: result}

	case OpBreeze:
		if req.Breeze == nil {
			return failure(switcher.KindRejected, "breeze requires a breeze command")
		}
		if err := r.adapter.ControlBreeze(ctx, req.Breeze.command()); err != nil {
			return errorResponse(err)
		}
		return &Response{OK: true}

	default:
		return failure(switcher.KindRejected, fmt.Sprintf("unknown op %q", req.Op))
	}
}

func failure(kind switcher.ErrorKind, msg string) *Response {
	return &Response{Error: &WireError{Kind: string(kind), Message: msg}}
}

// errorResponse keeps the adapter's error kind; anything unclassified is
// reported as rejected.
func errorResponse(err error) *Response {
	var derr *switcher.DeviceError
	if errors.As(err, &derr) {
		msg := ""
		if derr.Err != nil {
			msg = derr.Err.Error()
		}
		return failure(derr.Kind, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure(switcher.KindTimeout, err.Error())
	}
	return failure(switcher.KindRejected, err.Error())
}
