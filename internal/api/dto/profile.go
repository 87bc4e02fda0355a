package dto

// ProfileResponse is the body of GET /v1/api/auth/profile.
type ProfileResponse struct {
	Data ProfileData `json:"data"`
}

type ProfileData struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}
