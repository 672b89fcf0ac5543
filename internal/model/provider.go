package model

// Provider is an activity operator.  UserID links the provider to the
// account that manages it; Email is optional and falls back to that
// account's profile email when notifying.
type Provider struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Profile mirrors an identity held by the auth provider.
type Profile struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}
