package apiclient

import (
	"context"
	"net/http"
	"net/url"
)

// Backend endpoint paths, relative to the base URL.
const (
	PathLogin       = "/auth/login"
	PathRegister    = "/auth/register"
	PathLogout      = "/auth/logout"
	PathUserDetails = "/userManagement/user-details"
	PathSendOTP     = "/email/sendOTP"
	PathVerifyOTP   = "/email/verifyOTP"
	PathOAuth       = "/oauth2/exchange"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	Email string `json:"email"`
	Token string `json:"token"`
	Role  string `json:"role"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	Password             string `json:"password"`
	EmailAddress         string `json:"emailAddress"`
	AgreeToTerms         bool   `json:"agreeToTerms"`
	AgreeToPrivacyPolicy bool   `json:"agreeToPrivacyPolicy"`
}

// UserDetails is returned by GET /userManagement/user-details.
type UserDetails struct {
	ID                          string   `json:"id,omitempty"`
	FirstName                   string   `json:"firstName"`
	LastName                    string   `json:"lastName"`
	LoggingEmail                string   `json:"loggingEmail"`
	OrganizationalEmail         string   `json:"organizationalEmail"`
	Position                    string   `json:"position"`
	AboutMe                     string   `json:"aboutMe"`
	PhoneNumber                 string   `json:"phoneNumber"`
	Organization                string   `json:"organization"`
	Location                    string   `json:"location"`
	VerificationStatus          string   `json:"verificationStatus"`
	PassportVerificationStatus  string   `json:"passportVerificationStatus"`
	AddressVerificationStatus   string   `json:"addressVerificationStatus"`
	IsVerified                  bool     `json:"isVerified,omitempty"`
	IsOrganizationEmailVerified bool     `json:"isOrganizationEmailVerified,omitempty"`
	Roles                       []string `json:"roles"`
	ProfileImageURL             string   `json:"profileImageUrl,omitempty"`
}

// OAuthExchangeResponse is returned by POST /oauth2/exchange.
type OAuthExchangeResponse struct {
	Token           string `json:"token"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	ProfileImageURL string `json:"profileImageUrl"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.Do(ctx, http.MethodPost, PathLogin, nil, LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.Do(ctx, http.MethodPost, PathRegister, nil, req, nil)
}

// Logout invalidates the current token on the backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.Do(ctx, http.MethodPost, PathLogout, nil, nil, nil)
}

// UserDetails fetches the profile and verification flags of the current user.
func (c *Client) UserDetails(ctx context.Context) (*UserDetails, error) {
	var resp UserDetails
	if err := c.Do(ctx, http.MethodGet, PathUserDetails, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendOTP asks the backend to mail a one-time password to the organizational email.
func (c *Client) SendOTP(ctx context.Context, organizationalEmail string) error {
	q := url.Values{}
	q.Set("organizationalEmail", organizationalEmail)
	return c.Do(ctx, http.MethodPost, PathSendOTP, q, nil, nil)
}

// VerifyOTP confirms the organizational email with otp.
func (c *Client) VerifyOTP(ctx context.Context, organizationalEmail, otp, role string) error {
	q := url.Values{}
	q.Set("organizationalEmail", organizationalEmail)
	q.Set("otp", otp)
	q.Set("userRoles", role)
	return c.Do(ctx, http.MethodPost, PathVerifyOTP, q, nil, nil)
}

// ExchangeOAuthCode trades an OAuth authorization code for a bearer token.
func (c *Client) ExchangeOAuthCode(ctx context.Context, authCode string) (*OAuthExchangeResponse, error) {
	q := url.Values{}
	q.Set("auth_code", authCode)

	var resp OAuthExchangeResponse
	if err := c.Do(ctx, http.MethodPost, PathOAuth, q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
