package sourced_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironbell/sourced/pkg/sourced"
	"github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/upcast"
)

// account is the test aggregate: an event-sourced bank account.
type account struct {
	*sourced.Root
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

type opened struct {
	Owner string `json:"owner"`
}

type credited struct {
	Amount int64 `json:"amount"`
}

func newAccount(id string, opts ...sourced.Option) *account {
	a := &account{}
	a.Root = sourced.New("account", id, append(opts, sourced.WithSnapshots(a))...)

	a.Handle("account.opened", func(env event.Envelope) error {
		a.Owner = env.Payload.(opened).Owner
		return nil
	})
	a.Handle("account.credited", func(env event.Envelope) error {
		a.Balance += env.Payload.(credited).Amount
		return nil
	})
	return a
}

func (a *account) MarshalState() ([]byte, error) {
	return json.Marshal(struct {
		Owner   string `json:"owner"`
		Balance int64  `json:"balance"`
	}{a.Owner, a.Balance})
}

func (a *account) UnmarshalState(data []byte) error {
	var s struct {
		Owner   string `json:"owner"`
		Balance int64  `json:"balance"`
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	a.Owner, a.Balance = s.Owner, s.Balance
	return nil
}

func TestRoot_ApplyAdvancesVersion(t *testing.T) {
	ctx := context.Background()
	acc := newAccount("acc-1")

	require.NoError(t, acc.Apply(ctx, "account.opened", opened{Owner: "ada"}))
	require.NoError(t, acc.Apply(ctx, "account.credited", credited{Amount: 50}))
	require.NoError(t, acc.Apply(ctx, "account.credited", credited{Amount: 25}))

	assert.Equal(t, int64(3), acc.Version())
	assert.Equal(t, int64(0), acc.InitialVersion())
	assert.Equal(t, "ada", acc.Owner)
	assert.Equal(t, int64(75), acc.Balance)
	assert.True(t, acc.HasChanges())

	events := acc.DomainEvents()
	require.Len(t, events, 3)
	for i, env := range events {
		assert.Equal(t, int64(i+1), env.Meta.AggregateVersion)
		assert.Equal(t, "account", env.Meta.AggregateType)
		assert.Equal(t, "acc-1", env.Meta.AggregateID)
	}
}

func TestRoot_ApplyRequiresEventType(t *testing.T) {
	acc := newAccount("acc-1")
	err := acc.Apply(context.Background(), "", nil)
	assert.True(t, errors.Is(err, errors.KindInvalidArguments))
}

func TestRoot_ApplyUnknownEventType(t *testing.T) {
	acc := newAccount("acc-1")
	err := acc.Apply(context.Background(), "account.frozen", nil)
	assert.True(t, errors.Is(err, errors.KindMethodNotImplemented))

	// A failed apply leaves the aggregate untouched.
	assert.Equal(t, int64(0), acc.Version())
	assert.False(t, acc.HasChanges())
}

func TestRoot_FailingHandlerLeavesRootUntouched(t *testing.T) {
	acc := newAccount("acc-1")
	cause := stderrors.New("negative amount")
	acc.Handle("account.debited", func(event.Envelope) error { return cause })

	err := acc.Apply(context.Background(), "account.debited", nil)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, int64(0), acc.Version())
	assert.Empty(t, acc.DomainEvents())
}

func TestRoot_Commit(t *testing.T) {
	ctx := context.Background()
	acc := newAccount("acc-1")
	require.NoError(t, acc.Apply(ctx, "account.opened", opened{Owner: "ada"}))

	acc.Commit()

	assert.False(t, acc.HasChanges())
	assert.Equal(t, int64(1), acc.Version())
	assert.Equal(t, int64(1), acc.InitialVersion())

	// Commit is idempotent.
	acc.Commit()
	assert.Equal(t, int64(1), acc.InitialVersion())
}

func TestRoot_CheckVersion(t *testing.T) {
	ctx := context.Background()
	acc := newAccount("acc-1")
	require.NoError(t, acc.Apply(ctx, "account.opened", opened{Owner: "ada"}))
	acc.Commit()

	assert.NoError(t, acc.CheckVersion(1))

	err := acc.CheckVersion(0)
	var conflict *errors.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Current)
	assert.Equal(t, int64(0), conflict.Expected)

	// Pending events do not move the baseline.
	require.NoError(t, acc.Apply(ctx, "account.credited", credited{Amount: 10}))
	assert.NoError(t, acc.CheckVersion(1))
}

func TestRoot_LoadFromHistory(t *testing.T) {
	ctx := context.Background()

	src := newAccount("acc-1")
	require.NoError(t, src.Apply(ctx, "account.opened", opened{Owner: "ada"}))
	require.NoError(t, src.Apply(ctx, "account.credited", credited{Amount: 100}))
	history := src.DomainEvents()

	dst := newAccount("acc-1")
	require.NoError(t, dst.LoadFromHistory(ctx, history))

	assert.Equal(t, int64(2), dst.Version())
	assert.Equal(t, int64(2), dst.InitialVersion())
	assert.Equal(t, "ada", dst.Owner)
	assert.Equal(t, int64(100), dst.Balance)
	assert.False(t, dst.HasChanges())
}

func TestRoot_LoadFromHistoryRejectsForeignEvents(t *testing.T) {
	ctx := context.Background()

	other := newAccount("acc-2")
	require.NoError(t, other.Apply(ctx, "account.opened", opened{Owner: "bob"}))

	acc := newAccount("acc-1")
	err := acc.LoadFromHistory(ctx, other.DomainEvents())
	assert.True(t, errors.Is(err, errors.KindIDMismatch))
}

func TestRoot_LoadFromHistoryRejectsForeignType(t *testing.T) {
	ctx := context.Background()
	env := event.New("account.opened", opened{Owner: "ada"}).
		WithAggregate("ledger", "acc-1", 1)

	acc := newAccount("acc-1")
	err := acc.LoadFromHistory(ctx, []event.Envelope{env})
	assert.True(t, errors.Is(err, errors.KindTypeMismatch))
}

func TestRoot_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	acc := newAccount("acc-1")
	require.NoError(t, acc.Apply(ctx, "account.opened", opened{Owner: "ada"}))
	require.NoError(t, acc.Apply(ctx, "account.credited", credited{Amount: 75}))

	snap, err := acc.CreateSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "acc-1", snap.ID)
	assert.Equal(t, "account", snap.AggregateType)
	assert.Equal(t, int64(2), snap.Version)
	assert.NotEmpty(t, snap.LastEventID)

	restored := newAccount("acc-1")
	require.NoError(t, restored.RestoreFromSnapshot(snap))

	assert.Equal(t, int64(2), restored.Version())
	assert.Equal(t, int64(2), restored.InitialVersion())
	assert.Equal(t, "ada", restored.Owner)
	assert.Equal(t, int64(75), restored.Balance)
	assert.False(t, restored.HasChanges())
}

func TestRoot_RestoreFromSnapshotMismatch(t *testing.T) {
	ctx := context.Background()
	acc := newAccount("acc-1")
	require.NoError(t, acc.Apply(ctx, "account.opened", opened{Owner: "ada"}))

	snap, err := acc.CreateSnapshot()
	require.NoError(t, err)

	wrongID := newAccount("acc-2")
	assert.True(t, errors.Is(wrongID.RestoreFromSnapshot(snap), errors.KindIDMismatch))

	snap.ID = "acc-1"
	snap.AggregateType = "ledger"
	assert.True(t, errors.Is(acc.RestoreFromSnapshot(snap), errors.KindTypeMismatch))
}

func TestRoot_SnapshotsNotEnabled(t *testing.T) {
	r := sourced.New("account", "acc-1")
	_, err := r.CreateSnapshot()
	assert.True(t, errors.Is(err, errors.KindFeatureNotEnabled))
}

func TestRoot_SnapshotsWithoutSerializer(t *testing.T) {
	r := sourced.New("account", "acc-1", sourced.WithSnapshots(nil))
	_, err := r.CreateSnapshot()
	assert.True(t, errors.Is(err, errors.KindMethodNotImplemented))
}

func TestRoot_VersionedHandlerDispatch(t *testing.T) {
	ctx := context.Background()
	acc := newAccount("acc-1")

	var calls []int
	acc.HandleVersion("account.opened", 2, func(env event.Envelope) error {
		calls = append(calls, 2)
		return nil
	})
	acc.Handle("account.opened", func(env event.Envelope) error {
		calls = append(calls, 0)
		return nil
	})

	// v2 envelope hits the exact-version handler, v1 the fallback.
	require.NoError(t, acc.Apply(ctx, "account.opened", nil, event.WithEventVersion(2)))
	require.NoError(t, acc.Apply(ctx, "account.opened", nil))

	assert.Equal(t, []int{2, 0}, calls)
}

func TestRoot_UpcastersRunDuringReplay(t *testing.T) {
	ctx := context.Background()

	chain := upcast.NewChain()
	require.NoError(t, chain.Register("account.opened", 1, func(payload any, _ event.Metadata) (any, error) {
		old := payload.(opened)
		return opened{Owner: old.Owner + " (migrated)"}, nil
	}))

	acc := &account{}
	acc.Root = sourced.New("account", "acc-1", sourced.WithUpcasters(chain))
	acc.HandleVersion("account.opened", 2, func(env event.Envelope) error {
		acc.Owner = env.Payload.(opened).Owner
		return nil
	})

	v1 := event.New("account.opened", opened{Owner: "ada"}).
		WithAggregate("account", "acc-1", 1)
	require.NoError(t, acc.LoadFromHistory(ctx, []event.Envelope{v1}))
	assert.Equal(t, "ada (migrated)", acc.Owner)
}
