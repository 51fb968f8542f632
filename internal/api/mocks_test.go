package api

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Zimbwa03/NerdX-sub004/internal/costs"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/users"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/admin"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/credits"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/progress"
)

type MockCredits struct {
	mock.Mock
}

func (m *MockCredits) Register(ctx context.Context, userID, displayName string) (credits.Receipt, error) {
	args := m.Called(ctx, userID, displayName)
	return args.Get(0).(credits.Receipt), args.Error(1)
}

func (m *MockCredits) GetUser(ctx context.Context, userID string) (users.User, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(users.User), args.Error(1)
}

func (m *MockCredits) GetBalance(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCredits) Check(ctx context.Context, userID string, platform costs.Platform, action string) (credits.Quote, error) {
	args := m.Called(ctx, userID, platform, action)
	return args.Get(0).(credits.Quote), args.Error(1)
}

func (m *MockCredits) Deduct(ctx context.Context, req credits.DeductRequest) (credits.Receipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(credits.Receipt), args.Error(1)
}

func (m *MockCredits) Refund(ctx context.Context, req credits.RefundRequest) (credits.Receipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(credits.Receipt), args.Error(1)
}

func (m *MockCredits) TopUp(ctx context.Context, req credits.TopUpRequest) (credits.Receipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(credits.Receipt), args.Error(1)
}

func (m *MockCredits) Grant(ctx context.Context, req credits.GrantRequest) (credits.Receipt, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(credits.Receipt), args.Error(1)
}

func (m *MockCredits) History(ctx context.Context, userID string, limit int) ([]credits.Receipt, error) {
	args := m.Called(ctx, userID, limit)
	return args.Get(0).([]credits.Receipt), args.Error(1)
}

type MockProgress struct {
	mock.Mock
}

func (m *MockProgress) Get(ctx context.Context, userID string) (users.Progress, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(users.Progress), args.Error(1)
}

func (m *MockProgress) AwardXP(ctx context.Context, userID string, xp int64) (progress.Award, error) {
	args := m.Called(ctx, userID, xp)
	return args.Get(0).(progress.Award), args.Error(1)
}

func (m *MockProgress) RecordActivity(ctx context.Context, userID string, at time.Time) (users.Progress, error) {
	args := m.Called(ctx, userID, at)
	return args.Get(0).(users.Progress), args.Error(1)
}

type MockAdmin struct {
	mock.Mock
}

func (m *MockAdmin) Login(ctx context.Context, email, password string) (admin.Token, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(admin.Token), args.Error(1)
}

func (m *MockAdmin) ValidateToken(token string) (*admin.Claims, error) {
	args := m.Called(token)
	c, _ := args.Get(0).(*admin.Claims)
	return c, args.Error(1)
}

type MockCosts struct {
	mock.Mock
}

func (m *MockCosts) Table(ctx context.Context, platform costs.Platform) (*costs.Table, error) {
	args := m.Called(ctx, platform)
	t, _ := args.Get(0).(*costs.Table)
	return t, args.Error(1)
}
