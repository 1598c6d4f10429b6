package platform

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type GatewayState string

const (
	GWStateDisconnected GatewayState = "DISCONNECTED"
	GWStateConnecting   GatewayState = "CONNECTING"
	GWStateConnected    GatewayState = "CONNECTED"
	GWStateReconnecting GatewayState = "RECONNECTING"
	GWStateFailed       GatewayState = "FAILED"
)

type EventCallback func(event *Event)

type StateCallback func(state GatewayState)

type eventCallbackEntry struct {
	id       int
	callback EventCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Gateway receives message and interaction events from the platform bridge
// over a websocket, with automatic reconnect and keepalive pings.
type Gateway struct {
	wsURL string

	conn   *websocket.Conn
	state  GatewayState
	stateM sync.RWMutex

	eventCbs []eventCallbackEntry
	stateCbs []stateCallbackEntry
	cbM      sync.RWMutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

func NewGateway(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration) *Gateway {
	return &Gateway{
		wsURL:                wsURL,
		state:                GWStateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
	}
}

// SetHeaderProvider injects headers into the websocket handshake.
func (g *Gateway) SetHeaderProvider(h HeaderProvider) {
	g.headerProvider = h
}

func (g *Gateway) Connect(ctx context.Context) error {
	g.stateM.Lock()
	if g.state == GWStateConnected || g.state == GWStateConnecting {
		g.stateM.Unlock()
		return nil
	}
	g.stateM.Unlock()

	g.rootCtx, g.rootCancel = context.WithCancel(context.Background())
	g.setState(GWStateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, g.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      g.buildHeaders(),
	})
	if err != nil {
		// the caller decides what an initial dial failure means, reconnects
		// only cover connections that were established once
		g.setState(GWStateFailed)
		return err
	}

	g.conn = conn
	g.setState(GWStateConnected)

	g.wg.Add(2)
	go g.listen()
	go g.pingLoop()
	return nil
}

func (g *Gateway) listen() {
	defer g.wg.Done()
	for {
		select {
		case <-g.stopCh:
			return
		default:
		}

		if g.conn == nil {
			return
		}
		var ev Event
		if err := wsjson.Read(g.rootCtx, g.conn, &ev); err != nil {
			if g.isStopping() {
				return
			}
			g.setState(GWStateDisconnected)
			_ = g.closeConn(websocket.StatusGoingAway, "reconnect")
			g.scheduleReconnect()
			return
		}

		g.cbM.RLock()
		callbacks := make([]eventCallbackEntry, len(g.eventCbs))
		copy(callbacks, g.eventCbs)
		g.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(&ev)
			}
		}
	}
}

func (g *Gateway) pingLoop() {
	defer g.wg.Done()
	t := time.NewTicker(g.pingInterval)
	defer t.Stop()
	consecutiveFailures := 0
	for {
		select {
		case <-g.stopCh:
			return
		case <-t.C:
			if g.conn == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(g.rootCtx, 3*time.Second)
			err := g.conn.Ping(ctx)
			cancel()
			if err != nil {
				consecutiveFailures++
				if consecutiveFailures >= 2 {
					if g.isStopping() {
						return
					}
					g.setState(GWStateDisconnected)
					_ = g.closeConn(websocket.StatusGoingAway, "ping failure")
					g.scheduleReconnect()
					consecutiveFailures = 0
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

func (g *Gateway) scheduleReconnect() {
	if g.maxReconnectAttempts <= 0 {
		return
	}
	g.setState(GWStateReconnecting)

	go func() {
		for attempt := 1; attempt <= g.maxReconnectAttempts; attempt++ {
			delay := backoffDuration(attempt)
			if delay < g.reconnectDelay {
				delay = g.reconnectDelay
			}
			select {
			case <-g.stopCh:
				return
			case <-time.After(delay):
			}

			dialCtx, cancel := context.WithTimeout(g.rootCtx, 10*time.Second)
			conn, _, err := websocket.Dial(dialCtx, g.wsURL, &websocket.DialOptions{
				CompressionMode: websocket.CompressionNoContextTakeover,
				HTTPHeader:      g.buildHeaders(),
			})
			cancel()
			if err != nil {
				continue
			}

			g.conn = conn
			g.setState(GWStateConnected)

			g.wg.Add(2)
			go g.listen()
			go g.pingLoop()
			return
		}
		g.setState(GWStateFailed)
	}()
}

func (g *Gateway) OnEvent(cb EventCallback) int {
	g.cbM.Lock()
	defer g.cbM.Unlock()
	id := len(g.eventCbs) + 1
	g.eventCbs = append(g.eventCbs, eventCallbackEntry{id: id, callback: cb})
	return id
}

func (g *Gateway) RemoveEventCallback(id int) {
	g.cbM.Lock()
	defer g.cbM.Unlock()
	for i, cb := range g.eventCbs {
		if cb.id == id {
			g.eventCbs = append(g.eventCbs[:i], g.eventCbs[i+1:]...)
			break
		}
	}
}

func (g *Gateway) OnStateChange(cb StateCallback) int {
	g.cbM.Lock()
	defer g.cbM.Unlock()
	id := len(g.stateCbs) + 1
	g.stateCbs = append(g.stateCbs, stateCallbackEntry{id: id, callback: cb})
	return id
}

func (g *Gateway) setState(state GatewayState) {
	g.stateM.Lock()
	g.state = state
	g.stateM.Unlock()

	g.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(g.stateCbs))
	copy(callbacks, g.stateCbs)
	g.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

func (g *Gateway) Close(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stopCh) })
	_ = g.closeConn(websocket.StatusNormalClosure, "close")

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if g.rootCancel != nil {
			g.rootCancel()
		}
		return nil
	}
}

func (g *Gateway) closeConn(code websocket.StatusCode, reason string) error {
	if g.conn == nil {
		return nil
	}
	defer func() { g.conn = nil }()
	return g.conn.Close(code, reason)
}

func (g *Gateway) isStopping() bool {
	select {
	case <-g.stopCh:
		return true
	default:
		return false
	}
}

func (g *Gateway) buildHeaders() http.Header {
	hdr := http.Header{}
	if g.headerProvider == nil {
		return hdr
	}
	for k, v := range g.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
