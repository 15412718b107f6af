//nolint:varnamelen
package echo

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pilab-dev/storefront/apiclient"
	"github.com/pilab-dev/storefront/auth"
	"github.com/pilab-dev/storefront/currency"
	"github.com/pilab-dev/storefront/domain"
	sferrors "github.com/pilab-dev/storefront/errors"
	"github.com/pilab-dev/storefront/log"
)

// SessionAPI exposes one auth.Manager and one currency.Provider over HTTP.
type SessionAPI struct {
	manager  *auth.Manager
	currency *currency.Provider
	gatherer prometheus.Gatherer
	logger   log.Logger
}

// Option configures a SessionAPI.
type Option func(*SessionAPI)

// WithGatherer sets the registry served on /metrics. Defaults to prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *SessionAPI) { a.gatherer = g }
}

// WithLogger sets the request logger.
func WithLogger(l log.Logger) Option {
	return func(a *SessionAPI) { a.logger = l }
}

// NewSessionAPI initializes the gateway.
func NewSessionAPI(manager *auth.Manager, provider *currency.Provider, opts ...Option) *SessionAPI {
	a := &SessionAPI{
		manager:  manager,
		currency: provider,
		gatherer: prometheus.DefaultGatherer,
		logger:   log.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewServer returns an echo instance with the gateway routes and middleware installed.
func NewServer(a *SessionAPI) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(RequestLogger(a.logger))
	e.Use(RequestMetrics())
	e.Use(SecurityHeaders())

	a.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers the session and currency routes.
func (a *SessionAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))

	e.GET("/session", a.SessionHandler)
	e.POST("/session/login", a.LoginHandler)
	e.POST("/session/oauth", a.OAuthHandler)
	e.POST("/session/register", a.RegisterHandler)
	e.POST("/session/logout", a.LogoutHandler)

	authed := e.Group("/session", RequireSession(a.manager))
	authed.POST("/refresh", a.RefreshHandler)
	authed.PATCH("/user", a.UpdateUserHandler)
	authed.POST("/otp", a.SendOTPHandler)
	authed.POST("/verify", a.VerifyHandler)

	e.GET("/currency", a.CurrencyHandler)
	e.PUT("/currency/selected", a.SelectCurrencyHandler)
	e.GET("/currency/convert", a.ConvertHandler)
	e.GET("/currency/format", a.FormatHandler)
}

// HealthHandler reports liveness.
func (a *SessionAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// SessionHandler returns the current auth state.
func (a *SessionAPI) SessionHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, a.manager.State())
}

// LoginRequest is the body of POST /session/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler signs in with email and password and returns the new state.
func (a *SessionAPI) LoginHandler(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil || req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, errorBody("email and password are required"))
	}

	if err := a.manager.Login(c.Request().Context(), req.Email, req.Password); err != nil {
		return a.actionError(c, "login", err)
	}

	return c.JSON(http.StatusOK, a.manager.State())
}

// OAuthRequest is the body of POST /session/oauth.
type OAuthRequest struct {
	AuthCode string `json:"authCode"`
}

// OAuthHandler exchanges an OAuth authorization code for a session.
func (a *SessionAPI) OAuthHandler(c echo.Context) error {
	var req OAuthRequest
	if err := c.Bind(&req); err != nil || req.AuthCode == "" {
		return c.JSON(http.StatusBadRequest, errorBody("authCode is required"))
	}

	if err := a.manager.LoginWithOAuth(c.Request().Context(), req.AuthCode); err != nil {
		return a.actionError(c, "oauth", err)
	}

	return c.JSON(http.StatusOK, a.manager.State())
}

// RegisterHandler creates an account. It does not log in.
func (a *SessionAPI) RegisterHandler(c echo.Context) error {
	var req apiclient.RegisterRequest
	if err := c.Bind(&req); err != nil || req.EmailAddress == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, errorBody("emailAddress and password are required"))
	}

	if err := a.manager.Register(c.Request().Context(), req); err != nil {
		return a.actionError(c, "register", err)
	}

	return c.JSON(http.StatusCreated, echo.Map{"registered": true})
}

// LogoutHandler always succeeds; backend failures are swallowed by the manager.
func (a *SessionAPI) LogoutHandler(c echo.Context) error {
	a.manager.Logout(c.Request().Context())
	return c.JSON(http.StatusOK, a.manager.State())
}

// RefreshHandler reloads the user profile. A backend failure logs out.
func (a *SessionAPI) RefreshHandler(c echo.Context) error {
	if err := a.manager.RefreshSession(c.Request().Context()); err != nil {
		return a.actionError(c, "refresh", err)
	}
	return c.JSON(http.StatusOK, a.manager.State())
}

// UpdateUserHandler merges a profile patch into the cached user.
func (a *SessionAPI) UpdateUserHandler(c echo.Context) error {
	var patch domain.UserPatch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid user patch"))
	}

	if err := a.manager.UpdateUser(c.Request().Context(), patch); err != nil {
		return a.actionError(c, "update_user", err)
	}

	return c.JSON(http.StatusOK, a.manager.State())
}

// OTPRequest is the body of POST /session/otp.
type OTPRequest struct {
	OrganizationalEmail string `json:"organizationalEmail"`
}

// SendOTPHandler requests an OTP for an organizational email.
func (a *SessionAPI) SendOTPHandler(c echo.Context) error {
	var req OTPRequest
	if err := c.Bind(&req); err != nil || req.OrganizationalEmail == "" {
		return c.JSON(http.StatusBadRequest, errorBody("organizationalEmail is required"))
	}

	if err := a.manager.RequestOrganizationEmailOTP(c.Request().Context(), req.OrganizationalEmail); err != nil {
		return a.actionError(c, "send_otp", err)
	}

	return c.JSON(http.StatusAccepted, echo.Map{"sent": true})
}

// VerifyRequest is the body of POST /session/verify.
type VerifyRequest struct {
	OrganizationalEmail string `json:"organizationalEmail"`
	OTP                 string `json:"otp"`
	Role                string `json:"role"`
}

// VerifyHandler confirms an organizational email with its OTP.
func (a *SessionAPI) VerifyHandler(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil || req.OrganizationalEmail == "" || req.OTP == "" {
		return c.JSON(http.StatusBadRequest, errorBody("organizationalEmail and otp are required"))
	}

	err := a.manager.VerifyOrganizationEmail(c.Request().Context(), req.OrganizationalEmail, req.OTP, req.Role)
	if err != nil {
		return a.actionError(c, "verify", err)
	}

	return c.JSON(http.StatusOK, a.manager.State())
}

// CurrencyResponse is returned by GET /currency.
type CurrencyResponse struct {
	currency.State
	Supported []currency.Info `json:"supported"`
}

// CurrencyHandler returns the currency state and the supported currencies.
func (a *SessionAPI) CurrencyHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, CurrencyResponse{
		State:     a.currency.State(),
		Supported: currency.Supported(),
	})
}

// SelectCurrencyRequest is the body of PUT /currency/selected.
type SelectCurrencyRequest struct {
	Code string `json:"code"`
}

// SelectCurrencyHandler changes and persists the selected currency.
func (a *SessionAPI) SelectCurrencyHandler(c echo.Context) error {
	var req SelectCurrencyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("code is required"))
	}

	code, err := currency.ParseCode(req.Code)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	if err := a.currency.SetSelectedCurrency(c.Request().Context(), code); err != nil {
		return a.actionError(c, "select_currency", err)
	}

	return c.JSON(http.StatusOK, a.currency.State())
}

// ConvertHandler converts ?amount= from ?from= (default base) to ?to= (default selected).
func (a *SessionAPI) ConvertHandler(c echo.Context) error {
	amount, err := strconv.ParseFloat(c.QueryParam("amount"), 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("amount must be a number"))
	}

	from, to := currency.Base, a.currency.Selected()
	if v := c.QueryParam("from"); v != "" {
		if from, err = currency.ParseCode(v); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if to, err = currency.ParseCode(v); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
	}

	converted, err := a.currency.ConvertPrice(amount, from, to)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	return c.JSON(http.StatusOK, echo.Map{
		"amount": converted,
		"from":   from,
		"to":     to,
	})
}

// FormatHandler formats ?amount= using ?currency=, ?from=, ?decimals= and ?hideSymbol=.
func (a *SessionAPI) FormatHandler(c echo.Context) error {
	amount, err := strconv.ParseFloat(c.QueryParam("amount"), 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("amount must be a number"))
	}

	var opts currency.FormatOptions
	if v := c.QueryParam("currency"); v != "" {
		if opts.Currency, err = currency.ParseCode(v); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
	}
	if v := c.QueryParam("from"); v != "" {
		if opts.From, err = currency.ParseCode(v); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
	}
	if v := c.QueryParam("decimals"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 0 {
			return c.JSON(http.StatusBadRequest, errorBody("decimals must be a non-negative integer"))
		}
		opts.Decimals = &d
	}
	opts.HideSymbol, _ = strconv.ParseBool(c.QueryParam("hideSymbol"))

	formatted, err := a.currency.FormatPrice(amount, opts)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	return c.JSON(http.StatusOK, echo.Map{"formatted": formatted})
}

func (a *SessionAPI) actionError(c echo.Context, action string, err error) error {
	status := statusFor(err)
	a.logger.Warn(c.Request().Context(), "Session action failed", map[string]interface{}{
		"action": action,
		"status": status,
		"error":  err.Error(),
	})

	body := errorBody(sferrors.UserMessage(err))
	var apiErr *sferrors.APIError
	if errors.As(err, &apiErr) && len(apiErr.Details) > 0 {
		body["details"] = apiErr.Details
	}
	return c.JSON(status, body)
}

// statusFor maps a manager or provider error to the gateway response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sferrors.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, sferrors.ErrUnsupportedCurrency):
		return http.StatusBadRequest
	case errors.Is(err, sferrors.ErrRequestFailed), errors.Is(err, sferrors.ErrNoAuthToken):
		return http.StatusBadGateway
	}

	switch status := sferrors.StatusOf(err); {
	case status >= 500:
		return http.StatusBadGateway
	case status >= 400:
		return status
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(msg string) echo.Map {
	return echo.Map{"error": msg}
}
