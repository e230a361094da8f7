package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rqure/qcore/pkg/config"
	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore"
)

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *qstore.Store) {
	t.Helper()
	store, err := qstore.New(config.StoreConfig{})
	require.NoError(t, err)
	go func() {
		for range store.WriteChannel() {
		}
	}()
	m := NewManager(store, opts...)
	require.NoError(t, m.EnsureSchema(context.Background()))
	return m, store
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.CreateUser(ctx, "admin", "correct horse", nil)
	require.NoError(t, err)

	got, err := m.Authenticate(ctx, "admin", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.CreateUser(ctx, "admin", "correct horse", nil)
	require.NoError(t, err)

	_, err = m.Authenticate(ctx, "admin", "wrong")
	assert.True(t, qerrors.Is(err, qerrors.KindInvalidCredentials))
}

func TestFindUserByNameIsCaseInsensitive(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateUser(ctx, "Admin", "correct horse", nil)
	require.NoError(t, err)

	for _, name := range []string{"admin", "ADMIN", "Admin", "aDmIn"} {
		got, err := m.FindUserByName(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, id, got)
	}

	_, err = m.FindUserByName(ctx, "nobody")
	assert.True(t, qerrors.Is(err, qerrors.KindSubjectNotFound))
}

func TestAccountLocksAfterRepeatedFailures(t *testing.T) {
	m, _ := newTestManager(t, WithMaxAttempts(3))
	ctx := context.Background()
	id, err := m.CreateUser(ctx, "admin", "correct horse", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = m.Authenticate(ctx, "admin", "wrong")
		assert.True(t, qerrors.Is(err, qerrors.KindInvalidCredentials))
	}

	// Even the right password is rejected once locked.
	_, err = m.Authenticate(ctx, "admin", "correct horse")
	assert.True(t, qerrors.Is(err, qerrors.KindAccountLocked))

	require.NoError(t, m.Unlock(ctx, id))
	got, err := m.Authenticate(ctx, "admin", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDisabledAccountRejected(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateUser(ctx, "admin", "correct horse", nil)
	require.NoError(t, err)

	require.NoError(t, m.SetEnabled(ctx, id, false))
	_, err = m.Authenticate(ctx, "admin", "correct horse")
	assert.True(t, qerrors.Is(err, qerrors.KindAccountDisabled))
}

func TestCreateUserValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateUser(ctx, "  ", "correct horse", nil)
	assert.True(t, qerrors.Is(err, qerrors.KindInvalidName))

	_, err = m.CreateUser(ctx, "admin", "short", nil)
	assert.True(t, qerrors.Is(err, qerrors.KindInvalidPassword))

	_, err = m.CreateUser(ctx, "admin", "correct horse", nil)
	require.NoError(t, err)
	_, err = m.CreateUser(ctx, "ADMIN", "correct horse", nil)
	assert.True(t, qerrors.Is(err, qerrors.KindSubjectAlreadyExists))
}

func TestGeneratePassword(t *testing.T) {
	for i := 0; i < 20; i++ {
		pw, err := GeneratePassword(12, 20)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(pw), 12)
		assert.Less(t, len(pw), 20)
	}
}
