package auth

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/pilab-dev/storefront/apiclient"
)

// MockBackend is a testify mock of Backend that also records call order.
type MockBackend struct {
	mock.Mock

	orderMu sync.Mutex
	order   []string
}

func (m *MockBackend) record(name string) {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()
	m.order = append(m.order, name)
}

// Order returns the names of the calls made so far.
func (m *MockBackend) Order() []string {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()
	return append([]string(nil), m.order...)
}

func (m *MockBackend) Login(ctx context.Context, email, password string) (*apiclient.LoginResponse, error) {
	m.record("Login")
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apiclient.LoginResponse), args.Error(1)
}

func (m *MockBackend) Register(ctx context.Context, req apiclient.RegisterRequest) error {
	m.record("Register")
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockBackend) Logout(ctx context.Context) error {
	m.record("Logout")
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackend) UserDetails(ctx context.Context) (*apiclient.UserDetails, error) {
	m.record("UserDetails")
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apiclient.UserDetails), args.Error(1)
}

func (m *MockBackend) SendOTP(ctx context.Context, organizationalEmail string) error {
	m.record("SendOTP")
	args := m.Called(ctx, organizationalEmail)
	return args.Error(0)
}

func (m *MockBackend) VerifyOTP(ctx context.Context, organizationalEmail, otp, role string) error {
	m.record("VerifyOTP")
	args := m.Called(ctx, organizationalEmail, otp, role)
	return args.Error(0)
}

func (m *MockBackend) ExchangeOAuthCode(ctx context.Context, authCode string) (*apiclient.OAuthExchangeResponse, error) {
	m.record("ExchangeOAuthCode")
	args := m.Called(ctx, authCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apiclient.OAuthExchangeResponse), args.Error(1)
}

func (m *MockBackend) SetToken(token string) {
	m.record("SetToken")
	m.Called(token)
}

func (m *MockBackend) ClearToken() {
	m.record("ClearToken")
	m.Called()
}

// newMockBackend returns a backend whose token setters are always allowed.
func newMockBackend() *MockBackend {
	b := &MockBackend{}
	b.On("SetToken", mock.Anything).Maybe()
	b.On("ClearToken").Maybe()
	return b
}
