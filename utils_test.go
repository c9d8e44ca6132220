package covenant

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/policy"
)

// EncodeToBytes 与 DecodeFromBytes 往返归档记录
func TestCodeAndByte(t *testing.T) {
	rec := Record{
		Key:        "00ff",
		TypeID:     "vault",
		Funding:    100000,
		Descriptor: "wsh(pk(02aa))",
		Branches: []RecordBranch{
			{Name: "sweep", Templates: [][]byte{{0x02, 0x00}}, Hashes: [][]byte{{0x01}}},
			{Name: "settle", Finish: true},
		},
		Children: []string{"abcd"},
	}

	encoded, err := EncodeToBytes(rec)
	require.NoError(t, err)

	var decoded Record
	require.NoError(t, DecodeFromBytes(encoded, &decoded))
	assert.Equal(t, rec.Key, decoded.Key)
	assert.Equal(t, rec.Funding, decoded.Funding)
	assert.Equal(t, rec.Branches[0], decoded.Branches[0])
	assert.True(t, decoded.Branches[1].Finish)
	assert.Equal(t, rec.Children, decoded.Children)

	assert.Error(t, DecodeFromBytes([]byte("not gob"), &decoded))
}

func TestGenerateRandomString(t *testing.T) {
	a, err := generateRandomString(12)
	require.NoError(t, err)
	b, err := generateRandomString(12)
	require.NoError(t, err)
	assert.Len(t, a, 12)
	assert.NotEqual(t, a, b)
}

func TestSetLog(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	require.NoError(t, SetLog("", "", "debug"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	// 未知级别回落到 info
	require.NoError(t, SetLog("", "", "loud"))
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}

func TestOptionsBuilders(t *testing.T) {
	opt := DefaultOptions()
	opt.BuildRootPath("relative/path")
	assert.NotEqual(t, "relative/path", opt.RootPath)

	dir := t.TempDir()
	opt.BuildRootPath(dir)
	assert.Equal(t, dir, opt.RootPath)

	opt.BuildInstanceId()
	assert.Len(t, opt.InstanceId, 12)
	opt.BuildInstanceId("node-1")
	assert.Equal(t, "node-1", opt.InstanceId)

	opt.BuildMaxDepth(3)
	opt.BuildDeterminismCheck()
	cfg := opt.compilerConfig(nil)
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.True(t, cfg.CheckDeterminism)
	assert.NotNil(t, cfg.CheckScript)

	// 打开后的选项不再修改
	opt.IsOpen = true
	opt.BuildNetwork("signet")
	assert.Equal(t, "mainnet", opt.Network)
	assert.Error(t, opt.CheckAndSetOptions())
}

func TestLoadOptions(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/covenant.yaml", []byte(`
root_path: /var/lib/covenant
network: regtest
min_fee: 2000
max_fee: 20000
max_depth: 16
commitment: emulated
emulator_seed: correct horse
`), 0644))

	opt, err := LoadOptions(fs, "/etc/covenant.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/covenant", opt.RootPath)
	assert.Equal(t, "regtest", opt.Network)
	assert.Equal(t, amount.Amount(2000), opt.MinFee)
	assert.Equal(t, amount.Amount(20000), opt.MaxFee)
	assert.Equal(t, 16, opt.MaxDepth)
	assert.Equal(t, policy.CommitEmulated, opt.Mode)
	assert.Equal(t, []byte("correct horse"), opt.EmulatorSeed)
	// 未出现的字段保持默认值
	assert.Equal(t, "info", opt.LogLevel)
	assert.True(t, opt.CheckStandard)
	assert.Equal(t, policy.DefaultLimits().MaxScriptSize, opt.MaxScriptSize)

	// 空文件等于默认选项
	require.NoError(t, afero.WriteFile(fs, "/empty.yaml", nil, 0644))
	opt, err = LoadOptions(fs, "/empty.yaml")
	require.NoError(t, err)
	assert.Equal(t, policy.CommitCTV, opt.Mode)

	tests := []struct {
		name string
		data string
	}{
		{"unknown field", "colour: blue\n"},
		{"unknown commitment", "commitment: magic\n"},
		{"bad fee", "min_fee: lots\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte(test.data), 0644))
			_, err := LoadOptions(fs, "/bad.yaml")
			assert.Error(t, err)
		})
	}

	_, err = LoadOptions(fs, "/missing.yaml")
	assert.Error(t, err)
}
