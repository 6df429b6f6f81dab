package collab

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fenrir/internal/common"
)

func TestInMemory_DepositWithdraw(t *testing.T) {
	m := NewInMemory()
	require.NoError(t, m.Deposit("alice", "USDT", decimal.NewFromInt(100)))

	require.NoError(t, m.Withdraw("alice", "USDT", decimal.NewFromInt(40)))
	err := m.Withdraw("alice", "USDT", decimal.NewFromInt(1000))
	require.Error(t, err)
	apiErr, ok := err.(*common.APIError)
	require.True(t, ok)
	assert.Equal(t, common.CodeInsufficientFunds, apiErr.Code)
}

func TestInMemory_ResolveUnknownCredential(t *testing.T) {
	m := NewInMemory()
	m.RegisterCredential("token-1", "alice")

	user, err := m.Resolve("token-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	_, err = m.Resolve("unknown")
	require.Error(t, err)
}

func TestInMemory_ResolvePassthroughWhenUnregistered(t *testing.T) {
	m := NewInMemory()
	user, err := m.Resolve("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestInMemory_LimitsDefaultsToZeroValue(t *testing.T) {
	m := NewInMemory()
	limits, err := m.Limits("alice")
	require.NoError(t, err)
	assert.True(t, limits.MaxOrderNotional.IsZero())
	assert.Zero(t, limits.MaxLeverage)

	m.SetLimits("alice", TradingLimits{MaxOrderNotional: decimal.NewFromInt(1000), MaxLeverage: 5})
	limits, err = m.Limits("alice")
	require.NoError(t, err)
	assert.True(t, limits.MaxOrderNotional.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 5, limits.MaxLeverage)
}
