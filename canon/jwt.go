package canon

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Api keys issued by the platform may be jwts. When they are, the claims are read
// without verification (the server verifies) to catch configuration mistakes early.
type ApiKeyClaims struct {
	ProjectId string
	Subject   string
	// zero if the key does not expire
	ExpiresAt time.Time
}

func (self *ApiKeyClaims) Expired(now time.Time) bool {
	return !self.ExpiresAt.IsZero() && !now.Before(self.ExpiresAt)
}

// returns an error when `apiKey` is not a jwt. Opaque api keys are valid and simply have no claims.
func ParseApiKeyUnverified(apiKey string) (*ApiKeyClaims, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(apiKey, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	apiKeyClaims := &ApiKeyClaims{}

	if projectId, ok := claims["project_id"].(string); ok {
		apiKeyClaims.ProjectId = projectId
	}
	if subject, err := claims.GetSubject(); err == nil {
		apiKeyClaims.Subject = subject
	}
	if expiresAt, err := claims.GetExpirationTime(); err == nil && expiresAt != nil {
		apiKeyClaims.ExpiresAt = expiresAt.Time
	}

	return apiKeyClaims, nil
}
