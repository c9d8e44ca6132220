package template

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qinglongcn/covenant/amount"
)

var (
	scriptA = []byte{0x00, 0x14, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14}
	scriptB = []byte{0x51}
)

func TestBuildFee(t *testing.T) {
	tmpl, err := Build(100000, []Request{
		{Amount: 40000, Script: scriptA, Label: "a"},
		{Amount: 55000, Script: scriptB, Label: "b"},
	}, BuildOptions{MinFee: 1000})
	require.NoError(t, err)

	assert.Equal(t, amount.Amount(5000), tmpl.Fee)
	require.Len(t, tmpl.Outputs, 2)
	assert.Equal(t, amount.Amount(40000), tmpl.Outputs[0].Amount)
	assert.Equal(t, amount.Amount(55000), tmpl.Outputs[1].Amount)
	assert.Equal(t, DefaultVersion, tmpl.Version)
	assert.Equal(t, uint32(wire.MaxTxInSequenceNum), tmpl.Inputs[0].Sequence)
	require.NoError(t, tmpl.Check())
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name     string
		reqs     []Request
		minFee   amount.Amount
		isAmount bool
	}{
		{"fee below minimum", []Request{{Amount: 40000, Script: scriptA}, {Amount: 60000, Script: scriptB}}, 1000, true},
		{"outputs exceed funding", []Request{{Amount: 100001, Script: scriptA}}, 0, true},
		{"zero value output", []Request{{Amount: 0, Script: scriptA}}, 0, true},
		{"missing script", []Request{{Amount: 1000}}, 0, false},
		{"no outputs", nil, 0, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Build(100000, test.reqs, BuildOptions{MinFee: test.minFee})
			require.Error(t, err)
			assert.Equal(t, test.isAmount, errors.Is(err, amount.ErrAmount))
		})
	}
}

func TestBuildMaxFee(t *testing.T) {
	reqs := []Request{{Amount: 40000, Script: scriptA}, {Amount: 55000, Script: scriptB}}
	_, err := Build(100000, reqs, BuildOptions{MinFee: 1000, MaxFee: 2000})
	require.Error(t, err)
	var ae *amount.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, amount.Amount(5000), ae.Have)

	tmpl, err := Build(100000, reqs, BuildOptions{MinFee: 1000, MaxFee: 5000})
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(5000), tmpl.Fee)
}

func TestLockTimeSequence(t *testing.T) {
	tmpl, err := Build(10000, []Request{{Amount: 9000, Script: scriptB}}, BuildOptions{LockTime: 700000})
	require.NoError(t, err)
	assert.Equal(t, uint32(700000), tmpl.LockTime)
	assert.Equal(t, uint32(wire.MaxTxInSequenceNum-1), tmpl.Inputs[0].Sequence)

	tmpl, err = Build(10000, []Request{{Amount: 9000, Script: scriptB}}, BuildOptions{Sequence: 144})
	require.NoError(t, err)
	assert.Equal(t, uint32(144), tmpl.Inputs[0].Sequence)
}

func TestResolve(t *testing.T) {
	tmpl, err := Build(50000, []Request{
		{Amount: 20000, Pending: true, Label: "child"},
		{Amount: 29000, Script: scriptB},
	}, BuildOptions{})
	require.NoError(t, err)
	assert.False(t, tmpl.Resolved())

	_, err = tmpl.Hash()
	assert.ErrorIs(t, err, ErrUnresolved)
	_, err = tmpl.MsgTx(chainhash.Hash{})
	assert.ErrorIs(t, err, ErrUnresolved)

	assert.Error(t, tmpl.Resolve(1, scriptA), "terminal outputs cannot be resolved")
	assert.Error(t, tmpl.Resolve(2, scriptA))
	assert.Error(t, tmpl.Resolve(0, nil))

	require.NoError(t, tmpl.Resolve(0, scriptA))
	assert.True(t, tmpl.Resolved())
	assert.Equal(t, scriptA, tmpl.Outputs[0].Script)

	_, err = tmpl.Hash()
	require.NoError(t, err)
}

func TestCloneIndependent(t *testing.T) {
	tmpl, err := Build(50000, []Request{{Amount: 20000, Pending: true}}, BuildOptions{})
	require.NoError(t, err)
	cp := tmpl.Clone()
	require.NoError(t, cp.Resolve(0, scriptA))
	assert.False(t, tmpl.Resolved())
	assert.True(t, cp.Resolved())
}

// ctvHash 按交易字段独立计算 BIP-119 默认模板哈希
func ctvHash(t *testing.T, tx *wire.MsgTx) chainhash.Hash {
	var buf bytes.Buffer
	le := func(v uint32) {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}
	le(uint32(tx.Version))
	le(tx.LockTime)
	le(uint32(len(tx.TxIn)))
	var seqs bytes.Buffer
	for _, in := range tx.TxIn {
		require.NoError(t, binary.Write(&seqs, binary.LittleEndian, in.Sequence))
	}
	buf.Write(chainhash.HashB(seqs.Bytes()))
	le(uint32(len(tx.TxOut)))
	var outs bytes.Buffer
	for _, out := range tx.TxOut {
		require.NoError(t, binary.Write(&outs, binary.LittleEndian, out.Value))
		require.NoError(t, wire.WriteVarBytes(&outs, 0, out.PkScript))
	}
	buf.Write(chainhash.HashB(outs.Bytes()))
	le(0)
	return chainhash.HashH(buf.Bytes())
}

func TestHashMatchesTransaction(t *testing.T) {
	tmpl, err := Build(100000, []Request{
		{Amount: 40000, Script: scriptA},
		{Amount: 55000, Script: scriptB},
	}, BuildOptions{MinFee: 1000, Sequence: 10, LockTime: 0})
	require.NoError(t, err)

	h, err := tmpl.Hash()
	require.NoError(t, err)

	// 哈希与被花费的 outpoint 无关
	tx1, err := tmpl.MsgTx(chainhash.Hash{0x01})
	require.NoError(t, err)
	tx2, err := tmpl.MsgTx(chainhash.Hash{0x02})
	require.NoError(t, err)
	assert.Equal(t, h, ctvHash(t, tx1))
	assert.Equal(t, h, ctvHash(t, tx2))

	raw, err := tmpl.Serialize(chainhash.Hash{0x01})
	require.NoError(t, err)
	var decoded wire.MsgTx
	require.NoError(t, decoded.Deserialize(bytes.NewReader(raw)))
	assert.Equal(t, tx1.TxHash(), decoded.TxHash())
}

func TestHashCommitsToOutputs(t *testing.T) {
	build := func(first amount.Amount, seq uint32) chainhash.Hash {
		tmpl, err := Build(100000, []Request{
			{Amount: first, Script: scriptA},
			{Amount: 50000, Script: scriptB},
		}, BuildOptions{Sequence: seq})
		require.NoError(t, err)
		h, err := tmpl.Hash()
		require.NoError(t, err)
		return h
	}
	base := build(40000, 0)
	assert.Equal(t, base, build(40000, 0))
	assert.NotEqual(t, base, build(40001, 0))
	assert.NotEqual(t, base, build(40000, 5))
}

func TestCheckDetectsTampering(t *testing.T) {
	tmpl, err := Build(100000, []Request{{Amount: 90000, Script: scriptB}}, BuildOptions{})
	require.NoError(t, err)
	tmpl.Outputs[0].Amount = 95000
	assert.ErrorIs(t, tmpl.Check(), amount.ErrAmount)
}

func TestCTVHashInputs(t *testing.T) {
	tmpl, err := Build(100000, []Request{{Amount: 90000, Script: scriptB}}, BuildOptions{})
	require.NoError(t, err)
	tx, err := tmpl.MsgTx(chainhash.Hash{0x07})
	require.NoError(t, err)

	_, err = CTVHash(tx, 1)
	assert.Error(t, err)

	h0, err := CTVHash(tx, 0)
	require.NoError(t, err)
	tx.TxIn[0].SignatureScript = []byte{0x51}
	h1, err := CTVHash(tx, 0)
	require.NoError(t, err)
	assert.NotEqual(t, h0, h1, "a non-empty scriptSig is committed")
}
