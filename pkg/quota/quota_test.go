package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall/pkg/types"
)

var (
	acme   = types.Tenant{UserID: "u-1", WorkspaceID: "w-acme"}
	globex = types.Tenant{UserID: "u-2", WorkspaceID: "w-globex"}
)

func newLedger(t *testing.T, credits int64) *Ledger {
	t.Helper()
	l, err := Open("", credits, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedgerDefaultsAndConsume(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, 3)

	bal, err := l.Balance(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, int64(3), bal)

	require.NoError(t, l.Check(ctx, acme, 3))
	require.NoError(t, l.Consume(ctx, acme, 2))

	err = l.Check(ctx, acme, 2)
	var quotaErr *types.QuotaError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, int64(1), quotaErr.Available)
	assert.Equal(t, int64(2), quotaErr.Required)
	assert.True(t, errors.Is(err, types.ErrQuota))

	assert.ErrorIs(t, l.Consume(ctx, acme, 5), types.ErrQuota)
	bal, _ = l.Balance(ctx, acme)
	assert.Equal(t, int64(1), bal, "failed consume must not debit")

	bal, _ = l.Balance(ctx, globex)
	assert.Equal(t, int64(3), bal, "workspaces are independent")
}

func TestLedgerGrant(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, 0)

	assert.ErrorIs(t, l.Check(ctx, acme, 1), types.ErrQuota)
	bal, err := l.Grant(ctx, acme, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)
	require.NoError(t, l.Check(ctx, acme, 10))

	_, err = l.Grant(ctx, acme, -1)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestLedgerConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, 50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Consume(ctx, acme, 1); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	bal, err := l.Balance(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, int64(50-ok), bal)
}

func TestUnlimited(t *testing.T) {
	assert.NoError(t, Unlimited{}.Check(context.Background(), acme, 1<<40))
	assert.NoError(t, Unlimited{}.Consume(context.Background(), acme, 1<<40))
}
