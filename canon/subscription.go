package canon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type ConnectionState int

const (
	ConnectionStateIdle ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateOpen
	// the socket closed and a reconnect is scheduled
	ConnectionStateReconnecting
	// terminal unless the owner calls `Connect` again
	ConnectionStateClosed
)

func (self ConnectionState) String() string {
	switch self {
	case ConnectionStateIdle:
		return "idle"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateOpen:
		return "open"
	case ConnectionStateReconnecting:
		return "reconnecting"
	case ConnectionStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(self))
	}
}

// called once per well-formed message, in frame order, from the connection's read goroutine.
// It is safe to unsubscribe from inside the callback.
type MessageCallback func(message StateMessage)

// The zero value reconnects with the default delays.
type SubscribeOptions struct {
	// stay closed when the socket closes instead of reconnecting
	NoReconnect bool
	// zero uses `DefaultReconnectMaxDelay`
	ReconnectMaxDelay time.Duration
	// zero uses `DefaultReconnectBaseDelay`
	ReconnectBaseDelay time.Duration
}

func DefaultSubscribeOptions() *SubscribeOptions {
	return &SubscribeOptions{
		NoReconnect:        false,
		ReconnectMaxDelay:  DefaultReconnectMaxDelay,
		ReconnectBaseDelay: DefaultReconnectBaseDelay,
	}
}

// transition events. All are handled by `dispatch`
type connectionEvent interface {
	isConnectionEvent()
}

type openEvent struct {
	ws WsConn
}

type messageEvent struct {
	messageType int
	data        []byte
}

type errorEvent struct {
	err error
}

type closeEvent struct {
	err error
}

type reconnectEvent struct{}

func (self *openEvent) isConnectionEvent()      {}
func (self *messageEvent) isConnectionEvent()   {}
func (self *errorEvent) isConnectionEvent()     {}
func (self *closeEvent) isConnectionEvent()     {}
func (self *reconnectEvent) isConnectionEvent() {}

// Owns at most one live socket and one pending reconnect timer.
//
// Every socket attempt and timer is tagged with the generation that created it.
// `Disconnect` advances the generation, which detaches the in-flight socket and timer
// so a close racing with teardown can never schedule a reconnect.
type SubscriptionConnection struct {
	ctx context.Context

	id  Id
	url string

	dialer   WsDialer
	callback MessageCallback
	options  *SubscribeOptions

	stateLock        sync.Mutex
	state            ConnectionState
	desiresReconnect bool
	reconnect        *Reconnect
	reconnectTimer   *time.Timer
	ws               WsConn
	dialCancel       context.CancelFunc
	generation       uint64
	stopCtxWatch     func() bool
}

func NewSubscriptionConnection(
	ctx context.Context,
	url string,
	dialer WsDialer,
	callback MessageCallback,
	options *SubscribeOptions,
) *SubscriptionConnection {
	if options == nil {
		options = DefaultSubscribeOptions()
	}
	baseDelay := options.ReconnectBaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultReconnectBaseDelay
	}
	maxDelay := options.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultReconnectMaxDelay
	}
	connection := &SubscriptionConnection{
		ctx:       ctx,
		id:        NewId(),
		url:       url,
		dialer:    dialer,
		callback:  callback,
		options:   options,
		state:     ConnectionStateIdle,
		reconnect: NewReconnect(baseDelay, maxDelay),
	}
	return connection
}

func (self *SubscriptionConnection) Id() Id {
	return self.id
}

// Starts connecting. No effect while connecting or open.
// A pending reconnect is replaced by an immediate attempt.
func (self *SubscriptionConnection) Connect() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	switch self.state {
	case ConnectionStateConnecting, ConnectionStateOpen:
		return
	}
	if self.ctx.Err() != nil {
		self.state = ConnectionStateClosed
		return
	}

	if self.reconnectTimer != nil {
		self.reconnectTimer.Stop()
		self.reconnectTimer = nil
	}
	if self.stopCtxWatch == nil {
		// the owner context ending is a teardown
		self.stopCtxWatch = context.AfterFunc(self.ctx, self.Disconnect)
	}
	self.desiresReconnect = !self.options.NoReconnect
	self.startConnecting()
}

// Tears down synchronously: no reconnect will be scheduled,
// the timer is stopped and the socket is closed before returning.
// Safe to call more than once, before `Connect`, and from inside the message callback.
func (self *SubscriptionConnection) Disconnect() {
	var ws WsConn
	var stopCtxWatch func() bool
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.desiresReconnect = false
		if self.reconnectTimer != nil {
			self.reconnectTimer.Stop()
			self.reconnectTimer = nil
		}
		if self.dialCancel != nil {
			self.dialCancel()
			self.dialCancel = nil
		}
		// detach handlers of the current socket and timer
		self.generation += 1
		ws = self.ws
		self.ws = nil
		stopCtxWatch = self.stopCtxWatch
		self.stopCtxWatch = nil

		if self.state != ConnectionStateIdle && self.state != ConnectionStateClosed {
			glog.V(1).Infof("[s]%s disconnect (%s)\n", self.id, self.state)
			self.state = ConnectionStateClosed
		}
	}()

	if stopCtxWatch != nil {
		stopCtxWatch()
	}
	if ws != nil {
		ws.Close()
	}
}

// reflects only whether the socket is open, not whether a reconnect is desired
func (self *SubscriptionConnection) IsConnected() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state == ConnectionStateOpen
}

func (self *SubscriptionConnection) State() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

// must be called with the state lock
func (self *SubscriptionConnection) startConnecting() {
	self.generation += 1
	generation := self.generation
	dialCtx, dialCancel := context.WithCancel(self.ctx)
	self.dialCancel = dialCancel
	self.state = ConnectionStateConnecting
	go self.run(generation, dialCtx)
}

// one socket attempt: dial, then read until the socket closes
func (self *SubscriptionConnection) run(generation uint64, dialCtx context.Context) {
	dial := func() (WsConn, error) {
		return self.dialer.DialContext(dialCtx, self.url)
	}

	var ws WsConn
	var err error
	if glog.V(2) {
		ws, err = TraceWithReturnError(fmt.Sprintf("[s]connect %s", self.id), dial)
	} else {
		ws, err = dial()
	}
	if err != nil {
		self.dispatch(generation, &errorEvent{err: err})
		self.dispatch(generation, &closeEvent{err: err})
		return
	}

	if _, active := self.dispatch(generation, &openEvent{ws: ws}); !active {
		// torn down while dialing
		ws.Close()
		return
	}

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				self.dispatch(generation, &errorEvent{err: err})
			}
			self.dispatch(generation, &closeEvent{err: err})
			return
		}

		message, active := self.dispatch(generation, &messageEvent{
			messageType: messageType,
			data:        data,
		})
		if !active {
			return
		}
		if message != nil {
			// outside the state lock, so the callback may disconnect
			HandleError(func() {
				self.callback(message)
			})
		}
	}
}

// The single transition function. Events from a stale generation are ignored.
// Returns a message to deliver, and whether the event's socket is still the active one.
func (self *SubscriptionConnection) dispatch(generation uint64, event connectionEvent) (StateMessage, bool) {
	var stopCtxWatch func() bool
	defer func() {
		// after the state lock is released
		if stopCtxWatch != nil {
			stopCtxWatch()
		}
	}()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if generation != self.generation {
		return nil, false
	}

	switch v := event.(type) {
	case *openEvent:
		if self.state != ConnectionStateConnecting {
			return nil, false
		}
		self.ws = v.ws
		self.state = ConnectionStateOpen
		self.reconnect.Reset()
		glog.V(1).Infof("[s]%s open\n", self.id)
		return nil, true

	case *messageEvent:
		if self.state != ConnectionStateOpen {
			return nil, false
		}
		switch v.messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			// binary frames are read as utf-8 text
		default:
			return nil, true
		}
		message, err := DecodeMessage(v.data)
		if err != nil {
			// a bad frame is dropped. The connection continues
			glog.Infof("[s]%s failed to parse message = %s\n", self.id, err)
			return nil, true
		}
		if message == nil {
			glog.V(2).Infof("[s]%s<- unknown message type (ignored)\n", self.id)
			return nil, true
		}
		glog.V(2).Infof("[s]%s<- %s %s\n", self.id, message.MessageType(), message.MessageCursor())
		return message, true

	case *errorEvent:
		// closure is driven only by the close event
		glog.Infof("[s]%s error = %s\n", self.id, v.err)
		return nil, true

	case *closeEvent:
		self.ws = nil
		if self.dialCancel != nil {
			self.dialCancel()
			self.dialCancel = nil
		}
		if !self.desiresReconnect {
			self.state = ConnectionStateClosed
			// terminal, so the owner context no longer needs to be watched
			stopCtxWatch = self.stopCtxWatch
			self.stopCtxWatch = nil
			glog.V(1).Infof("[s]%s closed\n", self.id)
			return nil, false
		}
		delay := self.reconnect.Next()
		self.state = ConnectionStateReconnecting
		self.reconnectTimer = time.AfterFunc(delay, func() {
			self.dispatch(generation, &reconnectEvent{})
		})
		glog.V(1).Infof("[s]%s reconnect attempt %d in %s\n", self.id, self.reconnect.Attempt(), delay)
		return nil, false

	case *reconnectEvent:
		self.reconnectTimer = nil
		if self.state != ConnectionStateReconnecting || !self.desiresReconnect {
			return nil, false
		}
		self.startConnecting()
		return nil, true

	default:
		return nil, false
	}
}
