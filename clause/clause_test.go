package clause

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeys(t *testing.T, n int) []KeyID {
	t.Helper()
	keys := make([]KeyID, 0, n)
	for i := 0; i < n; i++ {
		pk, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		keys = append(keys, NewKeyID(pk.PubKey()))
	}
	return keys
}

func TestNewSignedBy(t *testing.T) {
	keys := newKeys(t, 3)

	tests := []struct {
		name  string
		k     int
		keys  []KeyID
		valid bool
	}{
		{"2 of 3", 2, keys, true},
		{"3 of 3", 3, keys, true},
		{"zero threshold", 0, keys, false},
		{"k greater than n", 4, keys, false},
		{"no keys", 1, nil, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, err := NewSignedBy(test.k, test.keys...)
			if !test.valid {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrThreshold))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.k, c.Threshold)
			assert.Len(t, c.Keys, len(test.keys))
		})
	}
}

func TestNewOr(t *testing.T) {
	_, err := NewOr()
	assert.ErrorIs(t, err, ErrEmptyOr)

	_, err = NewOr(Weighted{Weight: 0, Clause: Trivial{}})
	assert.ErrorIs(t, err, ErrWeight)

	_, err = NewOr(Weighted{Weight: 1})
	assert.ErrorIs(t, err, ErrNilClause)

	or, err := NewOr(Weighted{Weight: 3, Clause: After{Lock: Height(10)}}, Weighted{Weight: 1, Clause: Trivial{}})
	require.NoError(t, err)
	assert.Equal(t, "or(3@after(10),1@true)", or.String())
}

func TestAllOf(t *testing.T) {
	assert.Equal(t, Trivial{}, AllOf())
	assert.Equal(t, Trivial{}, AllOf(Trivial{}, nil))

	a := After{Lock: Height(5)}
	b := Before{Lock: Seconds(1024)}
	assert.Equal(t, a, AllOf(Trivial{}, a))
	assert.Equal(t, And{Left: a, Right: b}, AllOf(a, Trivial{}, b))
	assert.Equal(t, "and(after(5),older(1024s))", AllOf(a, b).String())
}

func TestAnyOf(t *testing.T) {
	a := After{Lock: Height(5)}
	c, err := AnyOf(a)
	require.NoError(t, err)
	assert.Equal(t, a, c)

	c, err = AnyOf(a, Trivial{})
	require.NoError(t, err)
	or, ok := c.(Or)
	require.True(t, ok)
	assert.Len(t, or.Branches, 2)
}

func TestKeysAndWalk(t *testing.T) {
	keys := newKeys(t, 3)
	multi, err := NewSignedBy(2, keys...)
	require.NoError(t, err)

	c := AllOf(Signed{Key: keys[1]}, multi)
	got := Keys(c)
	assert.Equal(t, []KeyID{keys[1], keys[0], keys[2]}, got)

	count := 0
	Walk(c, func(Clause) bool { count++; return true })
	assert.Equal(t, 3, count)
}

func TestParseKeyID(t *testing.T) {
	keys := newKeys(t, 1)
	parsed, err := ParseKeyID(string(keys[0]))
	require.NoError(t, err)
	assert.Equal(t, keys[0], parsed)

	raw, err := parsed.Bytes()
	require.NoError(t, err)
	assert.Len(t, raw, 33)

	_, err = ParseKeyID("zz")
	assert.Error(t, err)
	_, err = ParseKeyID("02aa")
	assert.Error(t, err)
}
