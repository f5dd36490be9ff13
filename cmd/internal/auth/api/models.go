package api

import "time"

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	IDNumber    string `json:"id_number"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Platform   string `json:"platform"`
	RememberMe bool   `json:"remember_me"`
}

// addressRequest is the body of generate, verify and reset requests.
type addressRequest struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp"`
	Password1   string `json:"password1"`
	Password2   string `json:"password2"`
}

type passwordChangeRequest struct {
	OldPassword string `json:"old_password"`
	Password1   string `json:"password1"`
	Password2   string `json:"password2"`
}

type refreshRequest struct {
	Refresh    string `json:"refresh"`
	Platform   string `json:"platform"`
	RememberMe bool   `json:"remember_me"`
}

type profileUpdateRequest struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	OtherNames  *string `json:"other_names"`
	IDNumber    *string `json:"id_number"`
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phone_number"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type loginResponse struct {
	Refresh   string `json:"refresh"`
	Access    string `json:"access"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type refreshResponse struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
}

type channelResponse struct {
	Address    string `json:"address"`
	IsVerified bool   `json:"is_verified"`
}

type profileResponse struct {
	ID          string           `json:"id"`
	Username    string           `json:"username"`
	FirstName   string           `json:"first_name"`
	LastName    string           `json:"last_name"`
	OtherNames  string           `json:"other_names"`
	IDNumber    *string          `json:"id_number"`
	Email       *channelResponse `json:"email"`
	PhoneNumber *channelResponse `json:"phone_number"`
	IsActive    bool             `json:"is_active"`
	IsSuperuser bool             `json:"is_superuser"`
	IsStaff     bool             `json:"is_staff"`
	LastLogin   *time.Time       `json:"last_login"`
	DateJoined  time.Time        `json:"date_joined"`
}

type usersResponse struct {
	Count   int               `json:"count"`
	Results []profileResponse `json:"results"`
}
