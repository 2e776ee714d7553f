package descriptor

// AuthType identifies the authentication scheme used by a tool server
type AuthType string

// Supported auth types
const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeOAuth2 AuthType = "oauth2"
)

// ParseAuthType converts a configuration string into an AuthType.
// Empty input maps to AuthTypeNone.
func ParseAuthType(s string) (AuthType, bool) {
	switch AuthType(s) {
	case "", AuthTypeNone:
		return AuthTypeNone, true
	case AuthTypeAPIKey, "api-key", "apikey":
		return AuthTypeAPIKey, true
	case AuthTypeBasic:
		return AuthTypeBasic, true
	case AuthTypeOAuth2, "oauth":
		return AuthTypeOAuth2, true
	default:
		return "", false
	}
}

// Auth is the closed set of authentication variants a server descriptor can carry.
// Each variant holds only the fields its scheme needs.
type Auth interface {
	Type() AuthType
	redacted() Auth
	sealed()
}

// NoAuth sends requests without credentials
type NoAuth struct{}

// APIKeyAuth sends a static key as a bearer token
type APIKeyAuth struct {
	Key string
}

// BasicAuth sends HTTP Basic credentials
type BasicAuth struct {
	Username string
	Password string
}

// OAuth2Auth obtains bearer tokens with the client-credentials grant
type OAuth2Auth struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Scope is space separated, may be empty
	Scope string
}

func (NoAuth) Type() AuthType     { return AuthTypeNone }
func (APIKeyAuth) Type() AuthType { return AuthTypeAPIKey }
func (BasicAuth) Type() AuthType  { return AuthTypeBasic }
func (OAuth2Auth) Type() AuthType { return AuthTypeOAuth2 }

func (NoAuth) sealed()     {}
func (APIKeyAuth) sealed() {}
func (BasicAuth) sealed()  {}
func (OAuth2Auth) sealed() {}

func (a NoAuth) redacted() Auth { return a }

func (a APIKeyAuth) redacted() Auth {
	return APIKeyAuth{Key: maskSecret(a.Key)}
}

func (a BasicAuth) redacted() Auth {
	return BasicAuth{Username: a.Username, Password: maskSecret(a.Password)}
}

func (a OAuth2Auth) redacted() Auth {
	a.ClientSecret = maskSecret(a.ClientSecret)
	return a
}

// NewAPIKeyAuth builds an API key variant
func NewAPIKeyAuth(key string) Auth {
	return APIKeyAuth{Key: key}
}

// NewBasicAuth builds a Basic auth variant
func NewBasicAuth(username, password string) Auth {
	return BasicAuth{Username: username, Password: password}
}

// NewOAuth2Auth builds a client-credentials variant
func NewOAuth2Auth(tokenURL, clientID, clientSecret, scope string) Auth {
	return OAuth2Auth{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        scope,
	}
}

// maskSecret keeps a short prefix so operators can tell credentials apart.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:3] + "***" + s[len(s)-4:]
}
