package covenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qinglongcn/covenant/cache"
	"github.com/qinglongcn/covenant/compiler"
)

// compileVault 编译一个金库合约，返回会话和顶层合约
func compileVault(t *testing.T) (*compiler.Session, *compiler.Object) {
	t.Helper()
	c, err := compiler.New(compiler.DefaultConfig())
	require.NoError(t, err)
	sess := compiler.NewSession()
	obj, err := c.Compile(context.Background(), sess, testVault(t), 1000000)
	require.NoError(t, err)
	return sess, obj
}

func archiveGraph(t *testing.T, a *Archive, sess *compiler.Session, root *compiler.Object) {
	t.Helper()
	require.NoError(t, compiler.Walk(sess, root, func(obj *compiler.Object, _ int) error {
		rec, err := NewRecord(obj)
		if err != nil {
			return err
		}
		return a.Put(rec)
	}))
}

func TestArchivePutGet(t *testing.T) {
	a, err := OpenArchive("")
	require.NoError(t, err)
	defer a.Close()

	sess, obj := compileVault(t)
	archiveGraph(t, a, sess, obj)

	rec, err := a.Get(obj.Key)
	require.NoError(t, err)
	assert.Equal(t, obj.TypeID, rec.TypeID)
	assert.Equal(t, uint64(obj.Funding), rec.Funding)
	assert.Equal(t, obj.Policy.PkScript, rec.PkScript)
	assert.Equal(t, obj.Digest[:], rec.Digest)
	require.Len(t, rec.Branches, len(obj.Branches))
	for i, b := range obj.Branches {
		assert.Equal(t, b.Name, rec.Branches[i].Name)
		require.Len(t, rec.Branches[i].Templates, len(b.Templates))
	}

	_, err = a.Get(cache.Key{0x01})
	assert.ErrorIs(t, err, ErrNotArchived)
	ok, err := a.Has(cache.Key{0x01})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArchiveKeepsFirstRecord(t *testing.T) {
	a, err := OpenArchive("")
	require.NoError(t, err)
	defer a.Close()

	_, obj := compileVault(t)
	rec, err := NewRecord(obj)
	require.NoError(t, err)
	require.NoError(t, a.Put(rec))

	changed := *rec
	changed.Descriptor = "wsh(0)"
	require.NoError(t, a.Put(&changed))

	got, err := a.Get(obj.Key)
	require.NoError(t, err)
	assert.Equal(t, rec.Descriptor, got.Descriptor)
}

func TestArchiveIterator(t *testing.T) {
	a, err := OpenArchive("")
	require.NoError(t, err)
	defer a.Close()

	sess, obj := compileVault(t)
	archiveGraph(t, a, sess, obj)

	iter := a.Iterator("")
	assert.Equal(t, 2, iter.Len())
	seen := map[string]bool{}
	for rec := iter.Next(); rec != nil; rec = iter.Next() {
		seen[rec.Key] = true
	}
	assert.True(t, seen[obj.Key.String()])
	assert.True(t, seen[obj.Children[0].String()])

	// 按键前缀过滤
	iter = a.Iterator(obj.Key.String()[:16])
	rec := iter.Next()
	require.NotNil(t, rec)
	assert.Equal(t, obj.Key.String(), rec.Key)
	assert.Nil(t, iter.Next())
}

func TestArchivePersists(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenArchive(dir)
	require.NoError(t, err)
	_, obj := compileVault(t)
	rec, err := NewRecord(obj)
	require.NoError(t, err)
	require.NoError(t, a.Put(rec))
	require.NoError(t, a.Close())

	a, err = OpenArchive(dir)
	require.NoError(t, err)
	defer a.Close()
	ok, err := a.Has(obj.Key)
	require.NoError(t, err)
	assert.True(t, ok)
}
