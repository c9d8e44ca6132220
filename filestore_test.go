package covenant

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreExport(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFileStore(fs, "/export")
	require.NoError(t, err)

	sess, obj := compileVault(t)
	paths, err := store.Export(sess, obj, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	require.Len(t, paths, 6)

	dir := filepath.Join("/export", obj.Key.String())
	desc, err := afero.ReadFile(fs, filepath.Join(dir, descriptorFile))
	require.NoError(t, err)
	assert.Contains(t, string(desc), "type: vault\n")
	assert.Contains(t, string(desc), "descriptor: "+obj.Policy.Descriptor+"\n")
	addr, err := obj.Policy.Address(&chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.Contains(t, string(desc), "address: "+addr+"\n")
	assert.Contains(t, string(desc), hex.EncodeToString(obj.Branches[0].Hashes[0][:]))

	// .hex 文件可以解回交易，哈希与编译结果一致
	raw, err := afero.ReadFile(fs, filepath.Join(dir, "unvault-0.hex"))
	require.NoError(t, err)
	b, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	var tx wire.MsgTx
	require.NoError(t, tx.Deserialize(bytes.NewReader(b)))
	tmpl := obj.Branches[0].Templates[0]
	assert.Equal(t, len(tmpl.Outputs), len(tx.TxOut))
	assert.Equal(t, int64(tmpl.Outputs[0].Amount), tx.TxOut[0].Value)

	child := filepath.Join("/export", obj.Children[0].String())
	ok, err := afero.Exists(fs, filepath.Join(child, "withdraw-0.hex"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "branch", safeName(""))
	assert.Equal(t, "a_b", safeName("a/b"))
	assert.Equal(t, "_", safeName(".."))
	assert.Equal(t, "sweep", safeName("sweep"))
}
