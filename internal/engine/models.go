package engine

// ErrorResponse is the structured body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SyncErrorResponse is the protocol-level error body for push and pull.
// It ships with HTTP 200 because the transport worked; the error names the
// protocol condition the client must react to (resync, upgrade).
type SyncErrorResponse struct {
	Error string `json:"error"`
}

// LoginRequest is the body of POST /{tenant_url}/api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"userID"`
	TenantID  string `json:"tenantID"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expiresAt"`
}
