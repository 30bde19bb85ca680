package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_ListCommissionsByAffiliate(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)

	affiliateUID := uuid.New().String()
	factory.CreateUser(t, affiliateUID, "affiliate", "affiliate@example.com")

	// Три приглашенных пользователя, по одной активации на каждого
	var referredUIDs []string
	for i := range 3 {
		referredUID := uuid.New().String()
		factory.CreateReferredUser(t, referredUID,
			fmt.Sprintf("referred%d", i), fmt.Sprintf("referred%d@example.com", i), affiliateUID)

		params := testActivationParams(referredUID)
		params.SubscriptionID = fmt.Sprintf("sub_%d", i)
		params.CustomerID = fmt.Sprintf("cus_%d", i)
		params.Commission = &CommissionParams{AffiliateUID: affiliateUID, Rate: 10, Amount: 4.9}
		_, err := storage.ApplyActivation(ctx, params)
		require.NoError(t, err)

		referredUIDs = append(referredUIDs, referredUID)
	}

	commissions, err := storage.ListCommissionsByAffiliate(ctx, affiliateUID, 10, 0)
	require.NoError(t, err)
	require.Len(t, commissions, 3)
	// Новые начисления идут первыми
	assert.Equal(t, referredUIDs[2], commissions[0].ReferredUID)
	assert.Equal(t, referredUIDs[0], commissions[2].ReferredUID)

	page, err := storage.ListCommissionsByAffiliate(ctx, affiliateUID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, referredUIDs[0], page[0].ReferredUID)

	empty, err := storage.ListCommissionsByAffiliate(ctx, uuid.New().String(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStorage_CountCommissionsForEntitlement(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)

	affiliateUID := uuid.New().String()
	referredUID := uuid.New().String()
	factory.CreateUser(t, affiliateUID, "affiliate", "affiliate@example.com")
	factory.CreateReferredUser(t, referredUID, "referred", "referred@example.com", affiliateUID)

	params := testActivationParams(referredUID)
	params.Commission = &CommissionParams{AffiliateUID: affiliateUID, Rate: 10, Amount: 4.9}
	result, err := storage.ApplyActivation(ctx, params)
	require.NoError(t, err)

	count, err := storage.CountCommissionsForEntitlement(ctx, result.Entitlement.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = storage.CountCommissionsForEntitlement(ctx, result.Entitlement.ID+1)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
