package interfaces_test

import (
	"context"
	"errors"
	"testing"

	"helpconv/pkg/interfaces"
	"helpconv/pkg/types"
)

type mockConnection struct{ closed bool }

func (m *mockConnection) WriteJSON(v interface{}) error { return nil }
func (m *mockConnection) Close() error                  { m.closed = true; return nil }
func (m *mockConnection) ID() string                    { return "conn-1" }

type mockLoginStore struct{}

func (m *mockLoginStore) CreateLoginSession(ctx context.Context, s *types.LoginSession) error {
	return nil
}
func (m *mockLoginStore) GetLoginSession(ctx context.Context, token string) (*types.LoginSession, error) {
	return nil, interfaces.ErrSessionNotFound
}
func (m *mockLoginStore) UpdateLoginSession(ctx context.Context, s *types.LoginSession) error {
	return nil
}
func (m *mockLoginStore) ListActiveLoginSessions(ctx context.Context) ([]*types.LoginSession, error) {
	return nil, nil
}
func (m *mockLoginStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockLoginStore) Close() error                          { return nil }

func TestInterfaces_ArchitecturalCompliance(t *testing.T) {
	var _ interfaces.Connection = &mockConnection{}
	var _ interfaces.LoginStore = &mockLoginStore{}
	var _ interfaces.SessionManager
}

func TestLoginStore_NotFoundContract(t *testing.T) {
	var store interfaces.LoginStore = &mockLoginStore{}
	_, err := store.GetLoginSession(context.Background(), "missing")
	if !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("GetLoginSession() error = %v, want %v", err, interfaces.ErrSessionNotFound)
	}
}

func TestErrors_Distinct(t *testing.T) {
	errs := []error{
		interfaces.ErrSessionNotFound,
		interfaces.ErrSessionExpired,
		interfaces.ErrSessionEnded,
		interfaces.ErrUnauthorized,
	}
	for i := range errs {
		for j := range errs {
			if i != j && errors.Is(errs[i], errs[j]) {
				t.Errorf("%v should not match %v", errs[i], errs[j])
			}
		}
	}
}
