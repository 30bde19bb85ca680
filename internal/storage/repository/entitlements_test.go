package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_FindEntitlementBySubscriptionID(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)

	userUID := uuid.New().String()
	factory.CreateUser(t, userUID, "testuser", "test@example.com")
	_, err := storage.ApplyActivation(ctx, testActivationParams(userUID))
	require.NoError(t, err)

	e, err := storage.FindEntitlementBySubscriptionID(ctx, "stripe", "sub_123")
	require.NoError(t, err)
	assert.Equal(t, userUID, e.UserUID)

	// Тот же идентификатор у другого провайдера не находится
	_, err = storage.FindEntitlementBySubscriptionID(ctx, "whop", "sub_123")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntitlementNotFound)
}

func TestStorage_FindEntitlementByCustomerID(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)

	userUID := uuid.New().String()
	factory.CreateUser(t, userUID, "testuser", "test@example.com")
	_, err := storage.ApplyActivation(ctx, testActivationParams(userUID))
	require.NoError(t, err)

	e, err := storage.FindEntitlementByCustomerID(ctx, "stripe", "cus_123")
	require.NoError(t, err)
	assert.Equal(t, userUID, e.UserUID)

	_, err = storage.FindEntitlementByCustomerID(ctx, "stripe", "cus_unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntitlementNotFound)
}

func TestStorage_GetEntitlementByUser(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)

	userUID := uuid.New().String()
	factory.CreateUser(t, userUID, "testuser", "test@example.com")

	_, err := storage.GetEntitlementByUser(ctx, userUID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntitlementNotFound)

	_, err = storage.ApplyActivation(ctx, testActivationParams(userUID))
	require.NoError(t, err)

	e, err := storage.GetEntitlementByUser(ctx, userUID)
	require.NoError(t, err)
	assert.Equal(t, "monthly", e.Plan)
}
