package canon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
)

func testApiKey(t *testing.T, claims gojwt.MapClaims) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	apiKey, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, err, nil)
	return apiKey
}

func TestClientConfig(t *testing.T) {
	type Test struct {
		config ClientConfig
		ok     bool
	}
	tests := []Test{
		{ClientConfig{Endpoint: "https://api.example.com", ProjectId: "p", ApiKey: "k"}, true},
		{ClientConfig{Endpoint: "http://localhost:8080", ProjectId: "p", ApiKey: "k"}, true},
		{ClientConfig{Endpoint: "http://localhost:8080/prefix", ProjectId: "p", ApiKey: "k"}, true},
		{ClientConfig{ProjectId: "p", ApiKey: "k"}, false},
		{ClientConfig{Endpoint: "https://api.example.com", ApiKey: "k"}, false},
		{ClientConfig{Endpoint: "https://api.example.com", ProjectId: "p"}, false},
		{ClientConfig{Endpoint: "ftp://api.example.com", ProjectId: "p", ApiKey: "k"}, false},
		{ClientConfig{Endpoint: "https://", ProjectId: "p", ApiKey: "k"}, false},
		{ClientConfig{Endpoint: "::not a url", ProjectId: "p", ApiKey: "k"}, false},
	}
	for _, test := range tests {
		client, err := NewClient(test.config)
		if test.ok {
			assert.Equal(t, err, nil)
			assert.Equal(t, client.Config(), test.config)
			client.Close()
		} else {
			assert.NotEqual(t, err, nil)
		}
	}
}

func TestClientApiKeyClaims(t *testing.T) {
	config := ClientConfig{
		Endpoint:  "https://api.example.com",
		ProjectId: "proj-1",
	}

	config.ApiKey = testApiKey(t, gojwt.MapClaims{
		"project_id": "proj-1",
		"sub":        "user-1",
	})
	client, err := NewClient(config)
	assert.Equal(t, err, nil)
	client.Close()

	// a key for another project is a configuration error
	config.ApiKey = testApiKey(t, gojwt.MapClaims{
		"project_id": "proj-2",
	})
	_, err = NewClient(config)
	assert.NotEqual(t, err, nil)

	// expiry is left to the server
	expiredApiKey := testApiKey(t, gojwt.MapClaims{
		"project_id": "proj-1",
		"exp":        time.Now().Add(-time.Hour).Unix(),
	})
	config.ApiKey = expiredApiKey
	client, err = NewClient(config)
	assert.Equal(t, err, nil)
	client.Close()

	claims, err := ParseApiKeyUnverified(expiredApiKey)
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.ProjectId, "proj-1")
	assert.Equal(t, claims.Expired(time.Now()), true)

	claims, err = ParseApiKeyUnverified(testApiKey(t, gojwt.MapClaims{"sub": "user-1"}))
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.Subject, "user-1")
	assert.Equal(t, claims.ExpiresAt.IsZero(), true)
	assert.Equal(t, claims.Expired(time.Now()), false)

	// opaque keys have no claims
	_, err = ParseApiKeyUnverified("sk_live_123")
	assert.NotEqual(t, err, nil)
	config.ApiKey = "sk_live_123"
	client, err = NewClient(config)
	assert.Equal(t, err, nil)
	client.Close()
}

func TestEventsNotImplemented(t *testing.T) {
	client, err := NewClient(ClientConfig{
		Endpoint:  "https://api.example.com",
		ProjectId: "p",
		ApiKey:    "k",
	})
	assert.Equal(t, err, nil)
	defer client.Close()

	_, err = client.Events.List(context.Background())
	var notImplementedErr *NotImplementedError
	assert.Equal(t, errors.As(err, &notImplementedErr), true)
	assert.Equal(t, err.Error(), "Events API is not yet implemented. Coming soon!")
	assert.Equal(t, errors.Is(err, ErrCanon), true)

	_, err = client.Events.List(context.Background(), "any", 1)
	assert.Equal(t, errors.As(err, &notImplementedErr), true)
}

func TestSubscriptionUrl(t *testing.T) {
	type Test struct {
		endpoint  string
		projectId string
		apiKey    string
		url       string
	}
	tests := []Test{
		{"http://localhost:8080", "p1", "k1", "ws://localhost:8080/v1/projects/p1/state/subscribe?api_key=k1"},
		{"https://api.example.com", "p1", "k1", "wss://api.example.com/v1/projects/p1/state/subscribe?api_key=k1"},
		{"https://api.example.com/", "p1", "k 1&x", "wss://api.example.com/v1/projects/p1/state/subscribe?api_key=k+1%26x"},
		{"https://example.com/canon", "a/b", "k1", "wss://example.com/canon/v1/projects/a%2Fb/state/subscribe?api_key=k1"},
	}
	for _, test := range tests {
		subscriptionUrl, err := SubscriptionUrl(test.endpoint, test.projectId, test.apiKey)
		assert.Equal(t, err, nil)
		assert.Equal(t, subscriptionUrl, test.url)
	}

	_, err := SubscriptionUrl("ftp://example.com", "p1", "k1")
	assert.NotEqual(t, err, nil)
}

func TestClientDefaultSettings(t *testing.T) {
	config := ClientConfig{
		Endpoint:  "https://api.example.com",
		ProjectId: "p",
		ApiKey:    "k",
	}

	client, err := NewClientWithSettings(context.Background(), config, nil)
	assert.Equal(t, err, nil)
	assert.NotEqual(t, client.State, nil)
	client.Close()

	client, err = NewClientWithSettings(context.Background(), config, &ClientSettings{})
	assert.Equal(t, err, nil)
	assert.NotEqual(t, client.State, nil)
	client.Close()
}
