package emulator

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qinglongcn/covenant/clause"
	"github.com/qinglongcn/covenant/policy"
	"github.com/qinglongcn/covenant/template"
)

func newHD(t *testing.T, salt string) *HD {
	t.Helper()
	hd, err := NewHDFromPassphrase([]byte("correct horse"), []byte(salt))
	require.NoError(t, err)
	return hd
}

func TestDerivationDeterministic(t *testing.T) {
	a, b, c := newHD(t, "s1"), newHD(t, "s1"), newHD(t, "s2")
	h := chainhash.HashH([]byte("template"))

	pa, err := a.PublicKeyFor(h)
	require.NoError(t, err)
	pb, err := b.PublicKeyFor(h)
	require.NoError(t, err)
	pc, err := c.PublicKeyFor(h)
	require.NoError(t, err)

	assert.True(t, pa.IsEqual(pb))
	assert.False(t, pa.IsEqual(pc))
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	other, err := a.PublicKeyFor(chainhash.HashH([]byte("other")))
	require.NoError(t, err)
	assert.False(t, pa.IsEqual(other))
}

func TestRequestCommitment(t *testing.T) {
	hd := newHD(t, "commit")
	h := chainhash.HashH([]byte("template"))

	sig, err := hd.RequestCommitment(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, hd.VerifyCommitment(h, sig))
	assert.False(t, hd.VerifyCommitment(chainhash.HashH([]byte("x")), sig))

	_, err = hd.RequestCommitment(context.Background(), chainhash.Hash{})
	var ee *Error
	assert.True(t, errors.As(err, &ee))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = hd.RequestCommitment(ctx, h)
	assert.True(t, errors.As(err, &ee))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyring(t *testing.T) {
	ring := NewKeyring()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	id := ring.Add(priv)
	assert.True(t, ring.Has(id))

	digest := chainhash.HashB([]byte("spend"))
	sig, err := ring.RequestSignature(context.Background(), digest, id)
	require.NoError(t, err)
	parsed, err := ecdsa.ParseDERSignature(sig)
	require.NoError(t, err)
	assert.True(t, parsed.Verify(digest, priv.PubKey()))

	var ee *Error
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	_, err = ring.RequestSignature(context.Background(), digest, clause.NewKeyID(other.PubKey()))
	assert.True(t, errors.As(err, &ee))
	_, err = ring.RequestSignature(context.Background(), digest[:10], id)
	assert.True(t, errors.As(err, &ee))
}

func TestEmulatedSpend(t *testing.T) {
	const value = 100000
	hd := newHD(t, "spend")

	tmpl, err := template.Build(value, []template.Request{{Amount: 99000, Script: []byte{0x51}}}, template.BuildOptions{})
	require.NoError(t, err)
	h, err := tmpl.Hash()
	require.NoError(t, err)

	opts := policy.DefaultOptions()
	opts.Mode = policy.CommitEmulated
	opts.Deriver = hd
	p, err := policy.Compile(clause.TxCommitment{Hash: h}, opts)
	require.NoError(t, err)

	tx, err := tmpl.MsgTx(chainhash.Hash{0x01})
	require.NoError(t, err)
	fetcher := txscript.NewCannedPrevOutputFetcher(p.PkScript, value)

	sig, err := hd.SignSpend(context.Background(), tx, 0, h, p.WitnessScript, value, fetcher)
	require.NoError(t, err)
	pub, err := hd.PublicKeyFor(h)
	require.NoError(t, err)

	witness, err := p.Satisfy(&policy.Spend{Signatures: map[clause.KeyID][]byte{clause.NewKeyID(pub): sig}})
	require.NoError(t, err)
	tx.TxIn[0].Witness = witness

	vm, err := txscript.NewEngine(p.PkScript, tx, 0, txscript.StandardVerifyFlags, nil, txscript.NewTxSigHashes(tx, fetcher), value, fetcher)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())

	// 与模板不一致的交易不会得到签名
	tx.TxOut[0].Value = 98000
	_, err = hd.SignSpend(context.Background(), tx, 0, h, p.WitnessScript, value, fetcher)
	var ee *Error
	assert.True(t, errors.As(err, &ee))
}
