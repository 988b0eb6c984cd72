package auth

import "time"

// Account is the authentication-facing projection of a party record. It
// carries the password hash and should never cross the engine boundary.
type Account struct {
	PartyID      string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
// Registering creates the party document the synchronization engine operates
// on; the relationships map and ledger log start empty.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest contains account login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
