package auth

// OperatorClaims identifies the authenticated operator
type OperatorClaims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
}

// LoginRequest represents an operator login request
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
	TokenType   string `json:"token_type"` // always "Bearer"
}

// AuthError is a typed error carrying a stable code for API responses
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrTooManyAttempts    = AuthError{Code: "TOO_MANY_ATTEMPTS", Message: "too many login attempts, try again later"}
	ErrNotConfigured      = AuthError{Code: "AUTH_NOT_CONFIGURED", Message: "operator login is not configured"}
)
