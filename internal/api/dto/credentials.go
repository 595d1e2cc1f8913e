package dto

// Credentials This is necessary to prevent any Mass Assignment Vulnerability attack
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is the login success payload.
type TokenResponse struct {
	Token string `json:"token"`
}
