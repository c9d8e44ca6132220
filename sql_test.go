package covenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompiledDatabase(t *testing.T) {
	db, err := NewSqliteDB(t.TempDir(), DbFile)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.InitDBTable())
	// 建表可重复执行
	require.NoError(t, db.InitDBTable())

	rows := []*CompiledDatabase{
		{CacheKey: "aa", TypeID: "vault", Funding: 1000000, Address: "bcrt1qa", Descriptor: "wsh(a)", Templates: 2, Root: true, CreatedAt: 1},
		{CacheKey: "bb", TypeID: "vault.unvault", Funding: 999000, Address: "bcrt1qb", Descriptor: "wsh(b)", Templates: 2, CreatedAt: 1},
		{CacheKey: "cc", TypeID: "vault", Funding: 5000, Address: "bcrt1qc", Descriptor: "wsh(c)", Templates: 1, Root: true, CreatedAt: 2},
	}
	for _, r := range rows {
		require.NoError(t, r.CreateCompiledDatabase(db))
	}
	// 缓存键唯一，重复写入忽略
	dup := *rows[0]
	dup.Descriptor = "wsh(x)"
	require.NoError(t, dup.CreateCompiledDatabase(db))

	exists, err := ExistsCompiledDatabase(db, "bb")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = ExistsCompiledDatabase(db, "dd")
	require.NoError(t, err)
	assert.False(t, exists)

	all, err := QueryCompiledDatabase(db, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "wsh(a)", all[0].Descriptor)
	assert.Equal(t, uint64(999000), all[1].Funding)
	assert.False(t, all[1].Root)

	vaults, err := QueryCompiledDatabase(db, "vault")
	require.NoError(t, err)
	require.Len(t, vaults, 2)
	assert.Equal(t, "cc", vaults[1].CacheKey)
	assert.True(t, vaults[1].Root)
}
