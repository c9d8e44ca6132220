package compiler

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qinglongcn/covenant/cache"
	"github.com/qinglongcn/covenant/template"
)

func TestCommitments(t *testing.T) {
	obj, err := newCompiler(t).Compile(context.Background(), NewSession(), chain{N: 1}, 20000)
	require.NoError(t, err)
	commits, err := obj.Commitments()
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, obj.Branches[0].Hashes[0], commits[0].Hash)

	// 无法序列化的模板不能被静默跳过
	bad := &Object{Branches: []Branch{{
		Name:      "broken",
		Templates: []*template.Template{{}},
		Hashes:    []chainhash.Hash{{}},
	}}}
	_, err = bad.Commitments()
	assert.ErrorIs(t, err, template.ErrNoInputs)

	c := cache.New[*Object]()
	_, err = c.Put(cache.Key{}, bad)
	var ce *cache.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, c.Len())
}
