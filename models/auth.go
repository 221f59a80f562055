package models

// PublicKeyResponse is returned by GET /api/users/public-key
type PublicKeyResponse struct {
	Key string `json:"key"`
}

// TokenRequest is the login payload. Only the encrypted password is ever sent.
type TokenRequest struct {
	Email             string `json:"email"`
	EncryptedPassword string `json:"encrypted_password"`
}

// TokenResponse is returned by the token and refresh endpoints. Failed logins
// may come back with status 200 and only Detail set.
type TokenResponse struct {
	Access string `json:"access,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ErrorResponse is the API's error body.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
