package model

type LinkResponse struct {
	RedirectURL  string `json:"redirectUrl"`
	ConnectionID string `json:"connectionId,omitempty"`
}

type VerifyResponse struct {
	UserID string `json:"userId"`
}

// AuthUser is the principal attached to an authenticated request.
type AuthUser struct {
	ID string
}

// Connection is an account the external provider reports as linked.
type Connection struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Toolkit string `json:"toolkit,omitempty"`
}
