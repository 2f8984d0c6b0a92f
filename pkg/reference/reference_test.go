package reference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRef_String(t *testing.T) {
	assert.Equal(t, "circuit:7", To(TypeCircuit, 7).String())
	assert.Equal(t, "site:*", Wildcard(TypeSite).String())
}

func TestParse(t *testing.T) {
	t.Run("concrete", func(t *testing.T) {
		ref, err := Parse("device:42")
		require.NoError(t, err)
		assert.Equal(t, TypeDevice, ref.Type)
		require.NotNil(t, ref.ID)
		assert.Equal(t, int64(42), *ref.ID)
	})

	t.Run("wildcard", func(t *testing.T) {
		ref, err := Parse("party:*")
		require.NoError(t, err)
		assert.Equal(t, TypeParty, ref.Type)
		assert.True(t, ref.IsWildcard())
	})

	t.Run("round trip", func(t *testing.T) {
		for _, s := range []string{"provider:3", "powerfeed:*", "maintenance:9"} {
			ref, err := Parse(s)
			require.NoError(t, err)
			assert.Equal(t, s, ref.String())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, s := range []string{"", "circuit", "circuit:", "circuit:abc", ":7"} {
			_, err := Parse(s)
			assert.Error(t, err, "input %q", s)
		}
	})
}

func TestParseType(t *testing.T) {
	for _, known := range Types() {
		got, err := ParseType(string(known))
		require.NoError(t, err)
		assert.Equal(t, known, got)
	}

	_, err := ParseType("incident")
	assert.Error(t, err)
}

func TestRef_Matches(t *testing.T) {
	circuit7 := To(TypeCircuit, 7)

	assert.True(t, circuit7.Matches(To(TypeCircuit, 7)))
	assert.False(t, circuit7.Matches(To(TypeCircuit, 8)))
	assert.False(t, circuit7.Matches(To(TypeSite, 7)))

	// A wildcard rule matches every object of its type.
	assert.True(t, Wildcard(TypeCircuit).Matches(circuit7))
	assert.False(t, Wildcard(TypeSite).Matches(circuit7))
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	reg := NewRegistry(TypeCircuit, TypeSite)
	reg.Register(TypeCircuit, func(_ context.Context, id int64) (any, error) {
		return map[string]int64{"id": id}, nil
	})

	assert.True(t, reg.Allowed(TypeCircuit))
	assert.True(t, reg.Allowed(TypeSite))
	assert.False(t, reg.Allowed(TypeDevice))

	obj, err := reg.Resolve(ctx, To(TypeCircuit, 3))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"id": int64(3)}, obj)

	_, err = reg.Resolve(ctx, To(TypeDevice, 1))
	assert.Error(t, err)

	_, err = reg.Resolve(ctx, Wildcard(TypeCircuit))
	assert.Error(t, err)
}
