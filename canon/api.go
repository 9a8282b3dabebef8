package canon

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

type ApiSettings struct {
	HttpTimeout        time.Duration
	HttpConnectTimeout time.Duration
	HttpTlsTimeout     time.Duration
}

func DefaultApiSettings() *ApiSettings {
	return &ApiSettings{
		HttpTimeout:        60 * time.Second,
		HttpConnectTimeout: 5 * time.Second,
		HttpTlsTimeout:     5 * time.Second,
	}
}

func defaultClient(settings *ApiSettings) *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: settings.HttpConnectTimeout,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: settings.HttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   settings.HttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

type GetOptions struct {
	Format StateFormat
}

func DefaultGetOptions() *GetOptions {
	return &GetOptions{
		Format: StateFormatValue,
	}
}

type GetCallback apiCallback[Value]

type UnsubscribeFunction func()

// reads the state document for a project, once over http or continuously over a websocket
type StateApi struct {
	ctx context.Context

	endpoint  *url.URL
	projectId string
	apiKey    string

	// computed once
	subscriptionUrl string

	httpClient *http.Client
	dialer     WsDialer

	log LogFunction
}

func NewStateApi(
	ctx context.Context,
	endpoint *url.URL,
	projectId string,
	apiKey string,
	settings *ApiSettings,
	dialer WsDialer,
) (*StateApi, error) {
	subscriptionUrl, err := SubscriptionUrl(endpoint.String(), projectId, apiKey)
	if err != nil {
		return nil, err
	}
	return &StateApi{
		ctx:             ctx,
		endpoint:        endpoint,
		projectId:       projectId,
		apiKey:          apiKey,
		subscriptionUrl: subscriptionUrl,
		httpClient:      defaultClient(settings),
		dialer:          dialer,
		log:             LogFn(LogLevelUrgent, "state"),
	}, nil
}

// `GET {endpoint}/v1/projects/{projectId}/state?path=..&format=..`
func (self *StateApi) stateUrl(path string, format StateFormat) string {
	u := projectStateUrl(self.endpoint, self.projectId, "")
	query := url.Values{}
	query.Set("path", path)
	query.Set("format", string(format))
	u.RawQuery = query.Encode()
	return u.String()
}

// Fetches the current value at `path` (default "/").
// The result is returned as the server sent it; with `StateFormatEnvelope` it is the envelope object.
// Exactly one request is made. Failures are `*ApiError` and are never retried here.
func (self *StateApi) Get(path string, opts *GetOptions, callback GetCallback) {
	go HandleError(func() {
		self.get(self.ctx, path, opts, callback)
	})
}

func (self *StateApi) GetSync(ctx context.Context, path string, opts *GetOptions) (Value, error) {
	return self.get(ctx, path, opts, NewNoopApiCallback[Value]())
}

func (self *StateApi) GetEnvelopeSync(ctx context.Context, path string) (*StateEnvelope, error) {
	value, err := self.GetSync(ctx, path, &GetOptions{Format: StateFormatEnvelope})
	if err != nil {
		return nil, err
	}
	envelope := &StateEnvelope{}
	if err := value.Decode(envelope); err != nil {
		return nil, &ApiError{
			Message: fmt.Sprintf("Malformed envelope: %s", err),
			Err:     err,
		}
	}
	return envelope, nil
}

func (self *StateApi) get(ctx context.Context, path string, opts *GetOptions, callback GetCallback) (Value, error) {
	if path == "" {
		path = "/"
	}
	if opts == nil {
		opts = DefaultGetOptions()
	}
	format := opts.Format
	if format == "" {
		format = StateFormatValue
	}

	stateUrl := self.stateUrl(path, format)
	doGet := func() (Value, error) {
		return get(
			ctx,
			self.httpClient,
			stateUrl,
			self.apiKey,
			callback,
		)
	}
	if glog.V(2) {
		return TraceWithReturnError(fmt.Sprintf("[a]get %s", path), doGet)
	}
	return doGet()
}

// Subscribes to state messages. Returns immediately; the connection is made in the background.
// The returned function tears the subscription down. Calling it again has no effect.
func (self *StateApi) Subscribe(callback MessageCallback, opts *SubscribeOptions) UnsubscribeFunction {
	connection := self.NewSubscription(callback, opts)
	connection.Connect()

	var unsubscribeOnce sync.Once
	return func() {
		unsubscribeOnce.Do(connection.Disconnect)
	}
}

// the connection is not started. Use this form to observe `IsConnected`
func (self *StateApi) NewSubscription(callback MessageCallback, opts *SubscribeOptions) *SubscriptionConnection {
	return NewSubscriptionConnection(
		self.ctx,
		self.subscriptionUrl,
		self.dialer,
		callback,
		opts,
	)
}

// Keeps `mirror` in sync with the subscription.
// A message that cannot be applied is logged; the server resends a snapshot on reconnect.
func (self *StateApi) SubscribeMirror(mirror *StateMirror, opts *SubscribeOptions) UnsubscribeFunction {
	log := SubLogFn(LogLevelUrgent, self.log, "mirror")
	return self.Subscribe(func(message StateMessage) {
		if err := mirror.Apply(message); err != nil {
			log("apply %s error = %s", message.MessageType(), err)
		}
	}, opts)
}

// Client-side traversal of a fetched or mirrored document. See `Select`.
func (self *StateApi) Select(value Value, path string) (Value, bool, error) {
	return Select(value, path)
}

func get(
	ctx context.Context,
	client *http.Client,
	url string,
	apiKey string,
	callback apiCallback[Value],
) (Value, error) {
	fail := func(err error) (Value, error) {
		callback.Result(Value{}, err)
		return Value{}, err
	}
	networkError := func(err error) (Value, error) {
		return fail(&ApiError{
			Message: fmt.Sprintf("Network error: %s", err),
			Err:     err,
		})
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return networkError(err)
	}

	req.Header.Add("Content-Type", "application/json")
	if apiKey != "" {
		auth := fmt.Sprintf("Bearer %s", apiKey)
		req.Header.Add("Authorization", auth)
	}

	r, err := client.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		// the response body is the error message
		body := string(responseBodyBytes)
		detail := strings.TrimSpace(body)
		if detail == "" {
			detail = http.StatusText(r.StatusCode)
		}
		return fail(&ApiError{
			Message:    fmt.Sprintf("Failed to get state: %s", detail),
			StatusCode: r.StatusCode,
			Body:       body,
			Err:        err,
		})
	}

	if err != nil {
		return networkError(err)
	}

	result, err := ParseValue(responseBodyBytes)
	if err != nil {
		return networkError(err)
	}

	callback.Result(result, nil)
	return result, nil
}
