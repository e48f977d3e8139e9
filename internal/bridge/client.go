package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/mqtt"
	"github.com/iyuvalk/switcher-breeze-rest/internal/switcher"
)

// AdapterName is reported by Client.Name.
const AdapterName = "mqtt-bridge"

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("bridge: client closed")

// Transport is the subset of *mqtt.Client the bridge needs.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Client is the facade side of the bridge RPC. It implements switcher.Adapter.
//
// The only state it holds is the set of requests waiting for a response;
// entries are removed on response, timeout or cancellation.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	transport Transport
	topics    mqtt.Topics
	qos       byte
	timeout   time.Duration
	logger    *logging.Logger

	mu      sync.Mutex
	pending map[string]chan *Response
	closed  bool
}

// Options configures a Client.
type Options struct {
	Topics  mqtt.Topics
	QoS     byte
	Timeout time.Duration
	Logger  *logging.Logger
}

// NewClient creates a bridge client. Call Start before use.
func NewClient(transport Transport, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Topics.Prefix == "" {
		opts.Topics = mqtt.NewTopics("")
	}
	return &Client{
		transport: transport,
		topics:    opts.Topics,
		qos:       opts.QoS,
		timeout:   opts.Timeout,
		logger:    opts.Logger.With("component", "bridge-client"),
		pending:   make(map[string]chan *Response),
	}
}

// Start subscribes to the response topics.
func (c *Client) Start() error {
	if err := c.transport.Subscribe(c.topics.AllResponses(), c.qos, c.handleResponse); err != nil {
		return fmt.Errorf("subscribing to bridge responses: %w", err)
	}
	c.logger.Info("bridge client started", "responses", c.topics.AllResponses(), "timeout", c.timeout)
	return nil
}

// Close unsubscribes and fails every pending request with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan *Response)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}

	if c.transport.IsConnected() {
		if err := c.transport.Unsubscribe(c.topics.AllResponses()); err != nil {
			return fmt.Errorf("unsubscribing from bridge responses: %w", err)
		}
	}
	return nil
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Name implements switcher.Adapter.
func (c *Client) Name() string {
	return AdapterName
}

// Discover implements switcher.Adapter. The bridge scans for window; the
// request deadline is the window plus the normal request timeout.
func (c *Client) Discover(ctx context.Context, window time.Duration) (*switcher.DeviceStatus, error) {
	resp, err := c.call(ctx, switcher.ActionStatus, "", &Request{
		Op:       OpDiscover,
		WindowMS: window.Milliseconds(),
	}, window+c.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, switcher.NewDeviceError(switcher.KindRejected, switcher.ActionStatus, "", errors.New("bridge returned no status"))
	}
	return resp.Status, nil
}

// Locate implements switcher.Adapter.
func (c *Client) Locate(ctx context.Context, ref switcher.DeviceRef) (*switcher.Session, error) {
	resp, err := c.call(ctx, switcher.ActionStatus, ref.String(), &Request{
		Op:     OpLocate,
		Device: ref.String(),
	}, c.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, switcher.NewDeviceError(switcher.KindRejected, switcher.ActionStatus, ref.String(), errors.New("bridge returned no session"))
	}
	return resp.Session.session(), nil
}

// Send implements switcher.Adapter.
func (c *Client) Send(ctx context.Context, session *switcher.Session, cmd switcher.Command) (*switcher.Result, error) {
	resp, err := c.call(ctx, cmd.Action, session.DeviceID, &Request{
		Op:      OpSend,
		Device:  session.DeviceID,
		Session: toWireSession(session),
		Command: toWireCommand(cmd),
	}, c.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, switcher.NewDeviceError(switcher.KindRejected, cmd.Action, session.DeviceID, errors.New("bridge returned no result"))
	}
	return resp.Result, nil
}

// ControlBreeze implements switcher.Adapter.
func (c *Client) ControlBreeze(ctx context.Context, cmd switcher.BreezeCommand) error {
	_, err := c.call(ctx, switcher.ActionBreeze, cmd.DeviceID.String(), &Request{
		Op:     OpBreeze,
		Device: cmd.DeviceID.String(),
		Breeze: toWireBreeze(cmd),
	}, c.timeout)
	return err
}

// call publishes req and waits for its response or the deadline.
func (c *Client) call(ctx context.Context, action switcher.Action, device string, req *Request, timeout time.Duration) (*Response, error) {
	if !c.transport.IsConnected() {
		return nil, switcher.NewDeviceError(switcher.KindUnavailable, action, device, mqtt.ErrBrokerDown)
	}

	req.ID = uuid.NewString()
	req.SentAt = time.Now().UTC()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding bridge request: %w", err)
	}

	ch, err := c.register(req.ID)
	if err != nil {
		return nil, switcher.NewDeviceError(switcher.KindUnavailable, action, device, err)
	}
	defer c.unregister(req.ID)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.transport.Publish(c.topics.Request(req.Op), payload, c.qos, false); err != nil {
		return nil, switcher.NewDeviceError(switcher.KindUnavailable, action, device, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, switcher.NewDeviceError(switcher.KindUnavailable, action, device, ErrClosed)
		}
		if !resp.OK {
			return nil, responseError(resp, action, device)
		}
		return resp, nil
	case <-ctx.Done():
		c.logger.Debug("bridge request timed out", "id", req.ID, "op", req.Op, "device", device, "error", ctx.Err())
		return nil, switcher.NewDeviceError(switcher.KindTimeout, action, device, ctx.Err())
	}
}

func (c *Client) register(id string) (chan *Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	ch := make(chan *Response, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// handleResponse routes a response to its waiting caller. Late or unknown
// responses are dropped.
func (c *Client) handleResponse(topic string, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decoding bridge response on %s: %w", topic, err)
	}
	if resp.ID == "" {
		resp.ID = mqtt.LastSegment(topic)
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping unmatched bridge response", "id", resp.ID)
		return nil
	}

	ch <- &resp
	return nil
}

// responseError converts a failed response to a *switcher.DeviceError.
func responseError(resp *Response, action switcher.Action, device string) error {
	if resp.Error == nil {
		return switcher.NewDeviceError(switcher.KindRejected, action, device, errors.New("bridge reported failure without detail"))
	}

	kind := switcher.ErrorKind(resp.Error.Kind)
	switch kind {
	case switcher.KindUnreachable, switcher.KindTimeout, switcher.KindRejected,
		switcher.KindNotFound, switcher.KindUnavailable:
	default:
		kind = switcher.KindRejected
	}

	var cause error
	if resp.Error.Message != "" {
		cause = errors.New(resp.Error.Message)
	}
	return switcher.NewDeviceError(kind, action, device, cause)
}
