package canon

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang/glog"
)

type ClientConfig struct {
	// e.g. "https://api.usecanon.dev" or "http://localhost:8080"
	Endpoint  string
	ProjectId string
	ApiKey    string
}

type ClientSettings struct {
	ApiSettings *ApiSettings
	WsSettings  *WsSettings
	// when nil a gorilla websocket dialer with `WsSettings` is used
	WsDialer WsDialer
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		ApiSettings: DefaultApiSettings(),
		WsSettings:  DefaultWsSettings(),
	}
}

type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	config ClientConfig

	State  *StateApi
	Events *EventsApi
}

func NewClient(config ClientConfig) (*Client, error) {
	return NewClientWithSettings(context.Background(), config, DefaultClientSettings())
}

// nil `settings` uses `DefaultClientSettings()`
func NewClientWithSettings(ctx context.Context, config ClientConfig, settings *ClientSettings) (*Client, error) {
	if settings == nil {
		settings = DefaultClientSettings()
	}
	endpoint, err := validateConfig(config)
	if err != nil {
		return nil, err
	}

	if apiKeyClaims, err := ParseApiKeyUnverified(config.ApiKey); err == nil {
		if apiKeyClaims.ProjectId != "" && apiKeyClaims.ProjectId != config.ProjectId {
			return nil, fmt.Errorf("apiKey is for project %s, not %s", apiKeyClaims.ProjectId, config.ProjectId)
		}
		if apiKeyClaims.Expired(time.Now()) {
			glog.Infof("[c]api key expired at %s\n", apiKeyClaims.ExpiresAt)
		}
	}
	// opaque api keys are not jwts and have nothing to check

	apiSettings := settings.ApiSettings
	if apiSettings == nil {
		apiSettings = DefaultApiSettings()
	}
	dialer := settings.WsDialer
	if dialer == nil {
		wsSettings := settings.WsSettings
		if wsSettings == nil {
			wsSettings = DefaultWsSettings()
		}
		dialer = NewWsDialer(wsSettings)
	}

	cancelCtx, cancel := context.WithCancel(ctx)

	state, err := NewStateApi(cancelCtx, endpoint, config.ProjectId, config.ApiKey, apiSettings, dialer)
	if err != nil {
		cancel()
		return nil, err
	}

	return &Client{
		ctx:    cancelCtx,
		cancel: cancel,
		config: config,
		State:  state,
		Events: &EventsApi{},
	}, nil
}

func validateConfig(config ClientConfig) (*url.URL, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if config.ProjectId == "" {
		return nil, errors.New("projectId is required")
	}
	if config.ApiKey == "" {
		return nil, errors.New("apiKey is required")
	}
	endpoint, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("endpoint is not a url: %w", err)
	}
	switch endpoint.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("endpoint must be http or https: %s", config.Endpoint)
	}
	if endpoint.Host == "" {
		return nil, fmt.Errorf("endpoint has no host: %s", config.Endpoint)
	}
	return endpoint, nil
}

func (self *Client) Config() ClientConfig {
	return self.config
}

// ends all subscriptions and in-flight requests made with the client
func (self *Client) Close() {
	self.cancel()
}

type EventsApi struct {
}

// not yet implemented. Fails immediately without network activity.
func (self *EventsApi) List(ctx context.Context, args ...any) (Value, error) {
	return Value{}, NewNotImplementedError("Events API is not yet implemented. Coming soon!")
}
