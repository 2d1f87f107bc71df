package upcast_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironbell/sourced/pkg/sourced/errors"
	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/upcast"
)

func TestChain_UpcastThroughTwoSteps(t *testing.T) {
	chain := upcast.NewChain()

	// v1 -> v2: rename "name" to "owner"
	require.NoError(t, chain.Register("account.opened", 1, func(payload any, _ event.Metadata) (any, error) {
		m := payload.(map[string]any)
		return map[string]any{"owner": m["name"]}, nil
	}))
	// v2 -> v3: add a default currency
	require.NoError(t, chain.Register("account.opened", 2, func(payload any, _ event.Metadata) (any, error) {
		m := payload.(map[string]any)
		m["currency"] = "EUR"
		return m, nil
	}))

	assert.Equal(t, 3, chain.LatestVersion("account.opened"))

	env := event.New("account.opened", map[string]any{"name": "ada"})
	out, err := chain.Upcast(env)
	require.NoError(t, err)

	assert.Equal(t, 3, out.SchemaVersion())
	assert.Equal(t, map[string]any{"owner": "ada", "currency": "EUR"}, out.Payload)

	// Identity is preserved through migration.
	assert.Equal(t, env.Meta.EventID, out.Meta.EventID)
}

func TestChain_UpcastStartsMidChain(t *testing.T) {
	chain := upcast.NewChain()
	require.NoError(t, chain.Register("account.opened", 1, func(any, event.Metadata) (any, error) {
		t.Fatal("v1 step must not run for a v2 payload")
		return nil, nil
	}))
	require.NoError(t, chain.Register("account.opened", 2, func(payload any, _ event.Metadata) (any, error) {
		return "migrated", nil
	}))

	env := event.New("account.opened", "v2-payload", event.WithEventVersion(2))
	out, err := chain.Upcast(env)
	require.NoError(t, err)
	assert.Equal(t, "migrated", out.Payload)
	assert.Equal(t, 3, out.SchemaVersion())
}

func TestChain_UpcastCurrentVersionUnchanged(t *testing.T) {
	chain := upcast.NewChain()
	require.NoError(t, chain.Register("account.opened", 1, func(payload any, _ event.Metadata) (any, error) {
		return payload, nil
	}))

	env := event.New("account.opened", "current", event.WithEventVersion(2))
	out, err := chain.Upcast(env)
	require.NoError(t, err)
	assert.Equal(t, env, out)
}

func TestChain_UpcastUnknownTypePassesThrough(t *testing.T) {
	chain := upcast.NewChain()
	env := event.New("never.registered", "payload")
	out, err := chain.Upcast(env)
	require.NoError(t, err)
	assert.Equal(t, env, out)
}

func TestChain_MissingStep(t *testing.T) {
	chain := upcast.NewChain()
	// Register v2 -> v3 only, leaving a gap at v1 -> v2.
	require.NoError(t, chain.Register("account.opened", 2, func(payload any, _ event.Metadata) (any, error) {
		return payload, nil
	}))

	env := event.New("account.opened", "v1-payload")
	out, err := chain.Upcast(env)

	var missing *errors.MissingUpcasterError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "account.opened", missing.EventType)
	assert.Equal(t, 1, missing.From)
	assert.Equal(t, 3, missing.To)

	// The original envelope comes back untouched, never partially migrated.
	assert.Equal(t, env, out)
}

func TestChain_DuplicateRegistration(t *testing.T) {
	chain := upcast.NewChain()
	step := func(payload any, _ event.Metadata) (any, error) { return payload, nil }

	require.NoError(t, chain.Register("account.opened", 1, step))
	err := chain.Register("account.opened", 1, step)

	var dup *errors.DuplicateUpcasterError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 1, dup.SourceVersion)
}

func TestChain_RegisterValidation(t *testing.T) {
	chain := upcast.NewChain()
	step := func(payload any, _ event.Metadata) (any, error) { return payload, nil }

	assert.True(t, errors.Is(chain.Register("", 1, step), errors.KindInvalidArguments))
	assert.True(t, errors.Is(chain.Register("x", 0, step), errors.KindInvalidArguments))
	assert.True(t, errors.Is(chain.Register("x", 1, nil), errors.KindInvalidArguments))
}

func TestChain_StepFailure(t *testing.T) {
	chain := upcast.NewChain()
	cause := stderrors.New("cannot parse legacy payload")
	require.NoError(t, chain.Register("account.opened", 1, func(any, event.Metadata) (any, error) {
		return nil, cause
	}))

	env := event.New("account.opened", "broken")
	_, err := chain.Upcast(env)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindProcessingFailed))
	assert.ErrorIs(t, err, cause)
}

func TestChain_LatestVersionDefaultsToOne(t *testing.T) {
	chain := upcast.NewChain()
	assert.Equal(t, 1, chain.LatestVersion("never.registered"))
}
