package canon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const TextMessage = websocket.TextMessage
const BinaryMessage = websocket.BinaryMessage

type WsSettings struct {
	HandshakeTimeout time.Duration
	// zero disables the read deadline. Subscriptions may be idle for long periods,
	// so only set this when the server sends heartbeats
	ReadTimeout time.Duration
	// zero keeps the gorilla default (no limit)
	ReadLimit int64
}

func DefaultWsSettings() *WsSettings {
	return &WsSettings{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      0,
		ReadLimit:        0,
	}
}

// one live socket. The subscription is read only, so no write side is needed.
type WsConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// The transport is supplied by the host at construction time.
// The subscription engine never chooses an implementation on its own.
type WsDialer interface {
	DialContext(ctx context.Context, url string) (WsConn, error)
}

type gorillaWsDialer struct {
	dialer   *websocket.Dialer
	settings *WsSettings
}

func NewWsDialerWithDefaults() WsDialer {
	return NewWsDialer(DefaultWsSettings())
}

func NewWsDialer(settings *WsSettings) WsDialer {
	return &gorillaWsDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		settings: settings,
	}
}

func (self *gorillaWsDialer) DialContext(ctx context.Context, url string) (WsConn, error) {
	ws, r, err := self.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if r != nil {
			return nil, &WebSocketError{
				Message: fmt.Sprintf("Handshake failed with status %d", r.StatusCode),
				Err:     err,
			}
		}
		return nil, &WebSocketError{
			Message: "Failed to connect to WebSocket",
			Err:     err,
		}
	}
	if 0 < self.settings.ReadLimit {
		ws.SetReadLimit(self.settings.ReadLimit)
	}
	if 0 < self.settings.ReadTimeout {
		readTimeout := self.settings.ReadTimeout
		// control frames from the server also count as liveness
		ws.SetPingHandler(func(appData string) error {
			ws.SetReadDeadline(time.Now().Add(readTimeout))
			return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(readTimeout))
		})
	}
	return &gorillaWsConn{
		Conn:        ws,
		readTimeout: self.settings.ReadTimeout,
	}, nil
}

type gorillaWsConn struct {
	*websocket.Conn
	readTimeout time.Duration
}

func (self *gorillaWsConn) ReadMessage() (int, []byte, error) {
	if 0 < self.readTimeout {
		// note that for websocket a deadline timeout cannot be recovered
		self.Conn.SetReadDeadline(time.Now().Add(self.readTimeout))
	}
	return self.Conn.ReadMessage()
}

// The api key goes in the query since browsers cannot set headers on the handshake
// and servers accept the same form from every client.
// http -> ws, https -> wss
func SubscriptionUrl(endpoint string, projectId string, apiKey string) (string, error) {
	if !strings.HasPrefix(endpoint, "http") {
		return "", fmt.Errorf("Endpoint must be http or https: %s", endpoint)
	}
	wsEndpoint, err := url.Parse("ws" + strings.TrimPrefix(endpoint, "http"))
	if err != nil {
		return "", err
	}
	u := projectStateUrl(wsEndpoint, projectId, "/subscribe")
	query := url.Values{}
	query.Set("api_key", apiKey)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// `{endpoint}/v1/projects/{projectId}/state{suffix}`
// A path already on the endpoint is kept as a prefix, for deployments behind a path-routing proxy.
func projectStateUrl(endpoint *url.URL, projectId string, suffix string) *url.URL {
	u := *endpoint
	basePath := strings.TrimSuffix(u.Path, "/")
	baseRawPath := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = fmt.Sprintf("%s/v1/projects/%s/state%s", basePath, projectId, suffix)
	u.RawPath = fmt.Sprintf("%s/v1/projects/%s/state%s", baseRawPath, url.PathEscape(projectId), suffix)
	u.RawQuery = ""
	u.Fragment = ""
	return &u
}
