package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State         SessionState
	Subscriptions int
	Attempts      int   // Reconnect attempts since the last successful connect
	Held          int   // Messages waiting for the session to finish restoring
	Reconnects    int64 // Successful reconnects
	Received      int64
	Delivered     int64
	Dropped       int64 // Messages for unknown channels or unparseable frames
}

// subscription is a logical channel registration that survives reconnects.
type subscription struct {
	channel string
	handler Handler
	queue   *queue[Message]
}

// Manager owns one feed session and the subscriptions multiplexed on it.
//
// Session states move disconnected -> connecting -> connected. An abnormal
// loss moves connected -> reconnecting, which retries with linear backoff
// (capped at 5x the base delay) until a session is re-established or the
// attempt budget is exhausted, in which case the state becomes failed and a
// single error is published on Fatal. Subscriptions are restored in
// registration order before the session is reported connected, and no data
// reaches a handler until then.
type Manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client

	mu       sync.Mutex
	state    SessionState
	attempts int
	client   Client
	subs     []*subscription
	held     []Message
	session  context.Context
	cancel   context.CancelFunc

	pendingMu sync.Mutex
	pending   map[int64]chan Response
	cmdID     atomic.Int64

	fatal     chan error
	fatalOnce sync.Once

	wg         sync.WaitGroup // read loops and reconnects
	dispatchWG sync.WaitGroup // per-subscription dispatchers

	reconnects atomic.Int64
	received   atomic.Int64
	delivered  atomic.Int64
	dropped    atomic.Int64
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxReconnectAttempts < 1 {
		cfg.MaxReconnectAttempts = 1
	}
	if cfg.MaxHeld < 1 {
		cfg.MaxHeld = DefaultManagerConfig().MaxHeld
	}

	return &Manager{
		cfg:       cfg,
		logger:    logger,
		newClient: NewClient,
		pending:   make(map[int64]chan Response),
		fatal:     make(chan error, 1),
	}
}

// Connect establishes the session and restores any registered
// subscriptions. It returns a *ConnectionError if no session could be
// established within the configured connect timeout.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	// The session context outlives Connect; it bounds reconnect loops.
	m.session, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	connectCtx, stop := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer stop()

	if err := m.open(connectCtx); err != nil {
		m.mu.Lock()
		if m.state == StateConnecting {
			m.state = StateDisconnected
		}
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.mu.Unlock()
		return m.connectionError(connectCtx, err)
	}

	m.logger.Info("feed connected", "url", m.cfg.Client.URL, "subscriptions", len(m.Subscriptions()))
	return nil
}

// Subscribe registers handler for channel. The registration survives
// reconnects. When the session is up the subscribe command is sent
// immediately; otherwise it is sent when the session is (re)established.
func (m *Manager) Subscribe(ctx context.Context, channel string, handler Handler) error {
	m.mu.Lock()
	if m.findLocked(channel) != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, channel)
	}
	sub := &subscription{
		channel: channel,
		handler: handler,
		queue:   newQueue[Message](m.cfg.QueueSize),
	}
	m.subs = append(m.subs, sub)
	m.dispatchWG.Add(1)
	go m.dispatch(sub)
	state, client := m.state, m.client
	m.mu.Unlock()

	if state != StateConnected {
		m.logger.Debug("subscription registered, pending session", "channel", channel, "state", state)
		return nil
	}

	if err := m.command(ctx, client, "subscribe", channel); err != nil {
		m.mu.Lock()
		m.removeLocked(sub)
		m.mu.Unlock()
		sub.queue.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	m.logger.Debug("subscribed", "channel", channel)
	return nil
}

// Unsubscribe removes the registration for channel.
func (m *Manager) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	sub := m.findLocked(channel)
	if sub == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotSubscribed, channel)
	}
	m.removeLocked(sub)
	state, client := m.state, m.client
	m.mu.Unlock()

	sub.queue.Close()

	if state != StateConnected {
		return nil
	}
	if err := m.command(ctx, client, "unsubscribe", channel); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	return nil
}

// Disconnect tears the session down and clears every subscription. It is
// safe to call more than once.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.state = StateDisconnected
	client := m.client
	m.client = nil
	subs := m.subs
	m.subs = nil
	m.held = nil
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if client != nil {
		err = client.Close()
	}
	for _, sub := range subs {
		sub.queue.Close()
	}

	m.wg.Wait()
	m.dispatchWG.Wait()

	if client != nil {
		m.logger.Info("feed disconnected")
	}
	return err
}

// State returns the current session state.
func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fatal delivers a single error when reconnect attempts are exhausted.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Subscriptions returns registered channels in registration order.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.subs))
	for i, sub := range m.subs {
		out[i] = sub.channel
	}
	return out
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := ManagerStats{
		State:         m.state,
		Subscriptions: len(m.subs),
		Attempts:      m.attempts,
		Held:          len(m.held),
	}
	m.mu.Unlock()

	stats.Reconnects = m.reconnects.Load()
	stats.Received = m.received.Load()
	stats.Delivered = m.delivered.Load()
	stats.Dropped = m.dropped.Load()
	return stats
}

// open dials a new client, restores subscriptions in registration order and
// marks the session connected. Data received while restoring is held.
func (m *Manager) open(ctx context.Context) error {
	client := m.newClient(m.cfg.Client, m.logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		client.Close()
		return ErrAlreadyClosed
	}
	m.client = client
	m.wg.Add(1)
	m.mu.Unlock()

	go m.readLoop(client)

	restored := make(map[*subscription]bool)
	for {
		m.mu.Lock()
		if m.state == StateDisconnected {
			m.mu.Unlock()
			client.Close()
			return ErrAlreadyClosed
		}
		next := m.nextUnrestoredLocked(restored)
		if next == nil {
			select {
			case <-client.Done():
				// Lost while restoring; connectionLost already closed it.
				m.mu.Unlock()
				return ErrNotConnected
			default:
			}
			m.setConnectedLocked()
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		if err := m.command(ctx, client, "subscribe", next.channel); err != nil {
			client.Close()
			return fmt.Errorf("restore %s: %w", next.channel, err)
		}
		restored[next] = true
	}
}

func (m *Manager) nextUnrestoredLocked(restored map[*subscription]bool) *subscription {
	for _, sub := range m.subs {
		if !restored[sub] {
			return sub
		}
	}
	return nil
}

// setConnectedLocked resets the attempt counter and releases held messages.
func (m *Manager) setConnectedLocked() {
	m.state = StateConnected
	m.attempts = 0

	held := m.held
	m.held = nil
	for _, msg := range held {
		m.deliverLocked(msg)
	}
}

// readLoop pumps one client's frames until it closes or fails.
func (m *Manager) readLoop(client Client) {
	defer m.wg.Done()

	for {
		select {
		case <-client.Done():
			return

		case err := <-client.Errors():
			m.drain(client)
			m.connectionLost(client, err)
			return

		case msg := <-client.Messages():
			m.route(msg)
		}
	}
}

// drain routes frames that were buffered before the client failed.
func (m *Manager) drain(client Client) {
	for {
		select {
		case msg := <-client.Messages():
			m.route(msg)
		default:
			return
		}
	}
}

// connectionLost starts a reconnect loop if client is the live session.
func (m *Manager) connectionLost(client Client, err error) {
	m.mu.Lock()
	if m.client != client || m.state != StateConnected {
		// Failed mid-restore. Closing under the lock unblocks the pending
		// command and keeps open from marking the dead client connected.
		client.Close()
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	ctx := m.session
	m.wg.Add(1)
	m.mu.Unlock()

	client.Close()

	m.logger.Warn("feed connection lost, reconnecting", "error", err)

	go m.reconnect(ctx)
}

// reconnect retries with linear backoff until the session is restored, the
// manager is disconnected, or attempts are exhausted.
func (m *Manager) reconnect(ctx context.Context) {
	defer m.wg.Done()

	var lastErr error
	for {
		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		if attempt > m.cfg.MaxReconnectAttempts {
			m.fail(attempt-1, lastErr)
			return
		}

		wait := backoff(m.cfg.ReconnectBaseDelay, attempt)
		m.logger.Info("attempting reconnection", "attempt", attempt, "backoff", wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		err := m.open(attemptCtx)
		cancel()

		if err != nil {
			if errors.Is(err, ErrAlreadyClosed) {
				return
			}
			lastErr = err
			m.logger.Warn("reconnection failed", "attempt", attempt, "error", err)
			continue
		}

		m.reconnects.Add(1)
		m.logger.Info("reconnected", "attempt", attempt, "subscriptions", len(m.Subscriptions()))
		return
	}
}

// fail marks the session failed and publishes the fatal error once.
func (m *Manager) fail(attempts int, lastErr error) {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateFailed
	m.client = nil
	m.mu.Unlock()

	err := &ConnectionError{
		URL: m.cfg.Client.URL,
		Err: fmt.Errorf("%w after %d attempts: %v", ErrMaxReconnects, attempts, lastErr),
	}
	m.logger.Error("feed connection failed permanently", "error", err)

	m.fatalOnce.Do(func() {
		m.fatal <- err
	})
}

// route dispatches a raw frame to a pending command or a subscription.
func (m *Manager) route(msg TimestampedMessage) {
	m.received.Add(1)

	if resp, ok := tryParseResponse(msg.Data); ok {
		m.routeResponse(resp)
		return
	}

	var data DataMessage
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Channel == "" {
		m.dropped.Add(1)
		m.logger.Debug("unrecognized feed message", "bytes", len(msg.Data))
		return
	}

	out := Message{
		Channel:    data.Channel,
		Data:       data.Data,
		ReceivedAt: msg.ReceivedAt,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected {
		if len(m.held) >= m.cfg.MaxHeld {
			m.dropped.Add(1)
			m.logger.Warn("hold buffer full, dropping message", "channel", out.Channel, "held", len(m.held))
			return
		}
		m.held = append(m.held, out)
		return
	}
	m.deliverLocked(out)
}

func (m *Manager) deliverLocked(msg Message) {
	sub := m.findLocked(msg.Channel)
	if sub == nil || !sub.queue.Push(msg) {
		m.dropped.Add(1)
		m.logger.Debug("message for unknown channel", "channel", msg.Channel)
	}
}

// dispatch delivers one subscription's messages sequentially.
func (m *Manager) dispatch(sub *subscription) {
	defer m.dispatchWG.Done()

	for {
		msg, ok := sub.queue.Pop()
		if !ok {
			return
		}
		sub.handler.HandleMessage(msg)
		m.delivered.Add(1)
	}
}

// tryParseResponse attempts to parse a message as a command response.
func tryParseResponse(data []byte) (Response, bool) {
	if !bytes.Contains(data, []byte(`"id":`)) {
		return Response{}, false
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false
	}

	switch resp.Type {
	case "subscribed", "unsubscribed", "error", "ok":
		return resp, true
	}

	return Response{}, false
}

// routeResponse sends a response to the waiting goroutine.
func (m *Manager) routeResponse(resp Response) {
	m.pendingMu.Lock()
	ch, ok := m.pending[resp.ID]
	if ok {
		delete(m.pending, resp.ID)
	}
	m.pendingMu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// command sends a channel command and waits for its response.
func (m *Manager) command(ctx context.Context, client Client, cmd, channel string) error {
	if client == nil {
		return ErrNotConnected
	}

	id := m.cmdID.Add(1)
	respCh := make(chan Response, 1)

	m.pendingMu.Lock()
	m.pending[id] = respCh
	m.pendingMu.Unlock()

	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, id)
		m.pendingMu.Unlock()
	}()

	data, err := json.Marshal(Command{
		ID:     id,
		Cmd:    cmd,
		Params: ChannelParams{Channels: []string{channel}},
	})
	if err != nil {
		return err
	}
	if err := client.Send(data); err != nil {
		return err
	}

	timer := time.NewTimer(m.cfg.SubscribeTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.Done():
		// The response may have been drained just before the close.
		select {
		case resp := <-respCh:
			return responseError(resp)
		default:
			return ErrNotConnected
		}
	case <-timer.C:
		return ErrTimeout
	case resp := <-respCh:
		return responseError(resp)
	}
}

func responseError(resp Response) error {
	if resp.Type != "error" {
		return nil
	}
	var errMsg ErrorMsg
	json.Unmarshal(resp.Msg, &errMsg)
	return fmt.Errorf("%s: %s", errMsg.Code, errMsg.Message)
}

func (m *Manager) findLocked(channel string) *subscription {
	for _, sub := range m.subs {
		if sub.channel == channel {
			return sub
		}
	}
	return nil
}

func (m *Manager) removeLocked(target *subscription) {
	for i, sub := range m.subs {
		if sub == target {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			return
		}
	}
}

func (m *Manager) connectionError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &ConnectionError{URL: m.cfg.Client.URL, Err: err}
}
