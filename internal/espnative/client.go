package espnative

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and buffer sizes for native API communication.
const (
	// defaultConnectTimeout is the maximum time for dial plus handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultRequestTimeout bounds a single request/response exchange.
	defaultRequestTimeout = 10 * time.Second

	// defaultReadTimeout is the idle limit on the receive loop. The
	// supervisor pings well inside this window, so hitting it means the
	// connection is dead.
	defaultReadTimeout = 5 * time.Minute

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// stateQueueSize bounds the decoded state update channel. Overflow
	// drops the oldest update; the registry only cares about the latest.
	stateQueueSize = 64

	// discoveryBufferSize bounds the entity list collector.
	discoveryBufferSize = 64

	// apiVersionMajor / apiVersionMinor is the protocol version announced
	// in the Hello exchange.
	apiVersionMajor = 1
	apiVersionMinor = 10
)

// Config holds connection settings for one controller.
type Config struct {
	// Host and Port locate the controller's native API listener.
	Host string
	Port int

	// Password is the native API password; empty means no authentication.
	Password string

	// ClientInfo is the name announced to the controller in the Hello
	// exchange and shown in the ESPHome logs.
	ClientInfo string

	// ConnectTimeout is the maximum time for dial plus handshake.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout bounds request/response exchanges.
	// Default: 10 seconds.
	RequestTimeout time.Duration

	// ReadTimeout is the idle limit on the receive loop.
	// Default: 5 minutes.
	ReadTimeout time.Duration
}

// Stats holds operational statistics for a connection.
type Stats struct {
	FramesTx      uint64
	FramesRx      uint64
	StatesDropped uint64
	ErrorsTotal   uint64
	LastActivity  time.Time
	Connected     bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// waiter is one pending expectation registered with the receive loop.
// Frames whose type is in types are delivered to ch until removed.
type waiter struct {
	types map[uint64]bool
	ch    chan frame
}

// Client is one plaintext native API connection.
//
// A Client does not reconnect; when the connection drops, the receive
// loop reports through the disconnect callback and the client becomes
// unusable. The vehicle session supervisor owns retry policy and dials
// a fresh client per attempt.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - At most one request/response exchange should be in flight per
//     message type; the session layer serialises commands.
type Client struct {
	cfg  Config
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	writeMu sync.Mutex

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// Pending response waiters
	waiterMu sync.Mutex
	waiters  []*waiter

	// Decoded state updates for the session to consume.
	states chan StateUpdate

	// Disconnect callback (optional)
	onDisconnect func(error)
	callbackMu   sync.RWMutex

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesTx      atomic.Uint64
	framesRx      atomic.Uint64
	statesDropped atomic.Uint64
	errorsTotal   atomic.Uint64
	lastActivity  atomic.Int64 // Unix timestamp
}

// Dial connects to a controller and completes the Hello/Connect handshake.
//
// Parameters:
//   - ctx: Context for cancellation (bounds the whole handshake)
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client with the receive loop running
//   - error: ErrInvalidPassword, ErrEncryptionRequired, or a wrapped
//     dial/handshake failure
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ClientInfo == "" {
		cfg.ClientInfo = "tesla-ble-bridge"
	}

	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, address, err)
	}

	c := &Client{
		cfg:    cfg,
		conn:   conn,
		r:      bufio.NewReader(conn),
		w:      bufio.NewWriter(conn),
		states: make(chan StateUpdate, stateQueueSize),
		done:   newCloseOnce(),
	}
	c.lastActivity.Store(time.Now().Unix())

	if err := c.handshake(connectCtx); err != nil {
		conn.Close()
		return nil, err
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

// handshake performs the synchronous Hello/Connect exchange.
// The receive loop is not running yet, so responses are read inline.
func (c *Client) handshake(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrHandshakeFailed, err)
	}

	if err := c.writeLocked(msgHelloRequest, encodeHelloRequest(c.cfg.ClientInfo, apiVersionMajor, apiVersionMinor)); err != nil {
		return fmt.Errorf("%w: hello: %w", ErrHandshakeFailed, err)
	}

	f, err := readFrame(c.r)
	if err != nil {
		return handshakeError("hello response", err)
	}
	if f.msgType != msgHelloResponse {
		return fmt.Errorf("%w: unexpected response type %d to hello", ErrHandshakeFailed, f.msgType)
	}
	hello, err := decodeHelloResponse(f.payload)
	if err != nil {
		return fmt.Errorf("%w: decoding hello: %w", ErrHandshakeFailed, err)
	}
	c.logDebug("hello exchange complete",
		"server", hello.ServerInfo,
		"name", hello.Name,
		"api_version", fmt.Sprintf("%d.%d", hello.APIVersionMajor, hello.APIVersionMinor),
	)

	if err := c.writeLocked(msgConnectRequest, encodeConnectRequest(c.cfg.Password)); err != nil {
		return fmt.Errorf("%w: connect: %w", ErrHandshakeFailed, err)
	}

	f, err = readFrame(c.r)
	if err != nil {
		return handshakeError("connect response", err)
	}
	if f.msgType != msgConnectResponse {
		return fmt.Errorf("%w: unexpected response type %d to connect", ErrHandshakeFailed, f.msgType)
	}
	invalid, err := decodeConnectResponse(f.payload)
	if err != nil {
		return fmt.Errorf("%w: decoding connect: %w", ErrHandshakeFailed, err)
	}
	if invalid {
		return ErrInvalidPassword
	}

	// Clear the handshake deadline; the receive loop sets its own.
	return c.conn.SetDeadline(time.Time{})
}

// handshakeError keeps ErrEncryptionRequired identifiable through wrapping.
func handshakeError(stage string, err error) error {
	if errors.Is(err, ErrEncryptionRequired) {
		return err
	}
	return fmt.Errorf("%w: reading %s: %w", ErrHandshakeFailed, stage, err)
}

// receiveLoop reads frames until the connection drops or Close is called.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.fail(fmt.Errorf("set read deadline: %w", err))
			return
		}

		f, err := readFrame(c.r)
		if err != nil {
			if c.isClosed() {
				return
			}
			c.errorsTotal.Add(1)
			c.fail(err)
			return
		}

		c.framesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())
		c.handleFrame(f)
	}
}

// handleFrame routes one inbound frame.
func (c *Client) handleFrame(f frame) {
	switch {
	case f.msgType == msgPingRequest:
		// Server-initiated keepalive; answer inline.
		if err := c.send(msgPingResponse, nil); err != nil {
			c.logError("answering device ping failed", err)
		}
		return

	case f.msgType == msgDisconnectRequest:
		// Device asked us to go away (reboot, OTA). Acknowledge and drop.
		_ = c.send(msgDisconnectResponse, nil)
		c.fail(fmt.Errorf("device requested disconnect"))
		return
	}

	if _, isState := stateKinds[f.msgType]; isState {
		update, err := decodeStateUpdate(f.msgType, f.payload)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logError("decoding state frame failed", err)
			return
		}
		c.pushState(update)
		return
	}

	if c.deliverToWaiter(f) {
		return
	}

	c.logDebug("ignoring unexpected frame", "type", f.msgType, "size", len(f.payload))
}

// pushState queues a state update, dropping the oldest on overflow.
func (c *Client) pushState(update StateUpdate) {
	for {
		select {
		case c.states <- update:
			return
		default:
			select {
			case <-c.states:
				c.statesDropped.Add(1)
				c.logWarn("state queue full, dropping oldest update")
			default:
			}
		}
	}
}

// deliverToWaiter hands a frame to the first matching registered waiter.
func (c *Client) deliverToWaiter(f frame) bool {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()

	for _, w := range c.waiters {
		if w.types[f.msgType] {
			select {
			case w.ch <- f:
			default:
				// Collector buffer full; drop rather than stall the loop.
				c.errorsTotal.Add(1)
			}
			return true
		}
	}
	return false
}

// addWaiter registers interest in a set of message types.
// The returned remove function must be called exactly once.
func (c *Client) addWaiter(buffer int, types ...uint64) (*waiter, func()) {
	w := &waiter{
		types: make(map[uint64]bool, len(types)),
		ch:    make(chan frame, buffer),
	}
	for _, t := range types {
		w.types[t] = true
	}

	c.waiterMu.Lock()
	c.waiters = append(c.waiters, w)
	c.waiterMu.Unlock()

	remove := func() {
		c.waiterMu.Lock()
		for i, cand := range c.waiters {
			if cand == w {
				c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
				break
			}
		}
		c.waiterMu.Unlock()
	}
	return w, remove
}

// request performs one send-and-await exchange.
func (c *Client) request(ctx context.Context, sendType uint64, payload []byte, wantType uint64) (frame, error) {
	if !c.IsConnected() {
		return frame{}, ErrNotConnected
	}

	w, remove := c.addWaiter(1, wantType)
	defer remove()

	if err := c.send(sendType, payload); err != nil {
		return frame{}, err
	}

	timeout := c.cfg.RequestTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-w.ch:
		return f, nil
	case <-ctx.Done():
		return frame{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-timer.C:
		return frame{}, fmt.Errorf("%w: no response after %v", ErrTimeout, timeout)
	case <-c.done.Done():
		return frame{}, ErrNotConnected
	}
}

// send writes one frame with the write lock held.
func (c *Client) send(msgType uint64, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(msgType, payload)
}

// writeLocked writes one frame; callers hold writeMu (or run pre-loop).
func (c *Client) writeLocked(msgType uint64, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := writeFrame(c.w, msgType, payload); err != nil {
		c.errorsTotal.Add(1)
		return err
	}
	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// DeviceInfo fetches the controller's identity block.
func (c *Client) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	f, err := c.request(ctx, msgDeviceInfoRequest, nil, msgDeviceInfoResponse)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("device info: %w", err)
	}
	return decodeDeviceInfo(f.payload)
}

// ListEntities runs discovery and returns the controller's full entity
// list in the order the device reported it.
func (c *Client) ListEntities(ctx context.Context) ([]EntityInfo, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	types := make([]uint64, 0, len(listEntityKinds)+1)
	for t := range listEntityKinds {
		types = append(types, t)
	}
	types = append(types, msgListEntitiesDone)

	w, remove := c.addWaiter(discoveryBufferSize, types...)
	defer remove()

	if err := c.send(msgListEntitiesRequest, nil); err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	timeout := c.cfg.RequestTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var entities []EntityInfo
	for {
		select {
		case f := <-w.ch:
			if f.msgType == msgListEntitiesDone {
				return entities, nil
			}
			info, err := decodeEntityInfo(listEntityKinds[f.msgType], f.payload)
			if err != nil {
				c.errorsTotal.Add(1)
				c.logError("decoding entity info failed", err)
				continue
			}
			entities = append(entities, info)
		case <-ctx.Done():
			return nil, fmt.Errorf("list entities: %w: %w", ErrTimeout, ctx.Err())
		case <-timer.C:
			return nil, fmt.Errorf("list entities: %w: no done after %v", ErrTimeout, timeout)
		case <-c.done.Done():
			return nil, ErrNotConnected
		}
	}
}

// SubscribeStates asks the controller to stream state updates.
// Updates arrive on the States channel; there is no acknowledgement.
func (c *Client) SubscribeStates() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(msgSubscribeStatesRequest, nil)
}

// Ping performs a request/response keepalive round trip.
//
// Because command frames carry no acknowledgement, a ping after a command
// also serves as a flush barrier: once the response arrives, the device
// has processed everything sent before the ping.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, msgPingRequest, nil, msgPingResponse)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// SwitchCommand sets a switch entity on or off.
func (c *Client) SwitchCommand(key uint32, state bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(msgSwitchCommandRequest, encodeSwitchCommand(key, state))
}

// ButtonCommand presses a button entity.
func (c *Client) ButtonCommand(key uint32) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(msgButtonCommandRequest, encodeButtonCommand(key))
}

// NumberCommand sets a number entity's value.
func (c *Client) NumberCommand(key uint32, value float64) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(msgNumberCommandRequest, encodeNumberCommand(key, value))
}

// LockCommand sends a lock/unlock/open command to a lock entity.
func (c *Client) LockCommand(key uint32, command uint32) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(msgLockCommandRequest, encodeLockCommand(key, command))
}

// States returns the channel of decoded state updates.
// The channel is never closed; select against Done for shutdown.
func (c *Client) States() <-chan StateUpdate {
	return c.states
}

// Done is closed when the client shuts down (Close or connection loss).
func (c *Client) Done() <-chan struct{} {
	return c.done.Done()
}

// fail tears the connection down after an unrecoverable error.
func (c *Client) fail(err error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	c.done.Close()
	c.conn.Close()

	if wasConnected {
		c.logWarn("connection lost", "error", err)
		c.callbackMu.RLock()
		callback := c.onDisconnect
		c.callbackMu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close gracefully closes the connection.
//
// It signals the receive loop to stop and closes the underlying network
// connection. Safe to call multiple times (uses sync.Once).
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}

	c.wg.Wait()
	return nil
}

// SetOnDisconnect sets a callback invoked once when the connection drops.
// Not called on explicit Close.
func (c *Client) SetOnDisconnect(callback func(error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true while the connection is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		FramesTx:      c.framesTx.Load(),
		FramesRx:      c.framesRx.Load(),
		StatesDropped: c.statesDropped.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
		LastActivity:  time.Unix(c.lastActivity.Load(), 0),
		Connected:     c.IsConnected(),
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
