package contracts

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/clause"
	"github.com/qinglongcn/covenant/compiler"
	"github.com/qinglongcn/covenant/contract"
)

func newKey(t *testing.T) clause.KeyID {
	t.Helper()
	pk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return clause.NewKeyID(pk.PubKey())
}

func newCompiler(t *testing.T) *compiler.Compiler {
	t.Helper()
	c, err := compiler.New(compiler.DefaultConfig())
	require.NoError(t, err)
	return c
}

// conserved 校验图中每个模板的金额守恒
func conserved(t *testing.T, sess *compiler.Session, root *compiler.Object) int {
	t.Helper()
	n := 0
	require.NoError(t, compiler.Walk(sess, root, func(obj *compiler.Object, depth int) error {
		n++
		for _, tmpl := range obj.Templates() {
			require.NoError(t, tmpl.Check())
			assert.Equal(t, obj.Funding, tmpl.Funding)
		}
		return nil
	}))
	return n
}

func TestVault(t *testing.T) {
	hot, cold := newKey(t), newKey(t)
	sess := compiler.NewSession()
	obj, err := newCompiler(t).Compile(context.Background(), sess, Vault{Hot: hot, Cold: cold, Delay: 144}, 1000000)
	require.NoError(t, err)

	assert.Equal(t, 2, conserved(t, sess, obj))
	require.Len(t, obj.Branches, 2)
	assert.Equal(t, "unvault", obj.Branches[0].Name)
	assert.True(t, strings.HasPrefix(obj.Policy.Descriptor, "wsh(or_i(and_v(v:pk("+string(hot)+")"))

	require.Len(t, obj.Children, 1)
	unvault, ok := sess.Lookup(obj.Children[0])
	require.True(t, ok)
	assert.Equal(t, "vault.unvault", unvault.TypeID)
	assert.Equal(t, amount.Amount(999000), unvault.Funding)

	withdraw := unvault.Branches[0]
	assert.Equal(t, uint32(144), withdraw.Templates[0].Inputs[0].Sequence)
	hotScript, err := PayToKey(hot)
	require.NoError(t, err)
	assert.Equal(t, hotScript, withdraw.Templates[0].Outputs[0].Script)
	assert.Contains(t, unvault.Policy.Descriptor, "older(144)")
}

func TestEscrow(t *testing.T) {
	buyer, seller, arbiter := newKey(t), newKey(t), newKey(t)
	obj, err := newCompiler(t).Compile(context.Background(), compiler.NewSession(),
		Escrow{Buyer: buyer, Seller: seller, Arbiter: arbiter, Timeout: 800000}, 50000)
	require.NoError(t, err)

	require.Len(t, obj.Branches, 2)
	assert.True(t, obj.Branches[0].Finish)
	assert.Empty(t, obj.Branches[0].Templates)
	assert.Equal(t, uint32(800000), obj.Branches[1].Templates[0].LockTime)
	assert.Contains(t, obj.Policy.Descriptor, fmt.Sprintf("multi(2,%s,%s,%s)", buyer, seller, arbiter))
	assert.Contains(t, obj.Policy.Descriptor, "after(800000)")
}

func TestEscrowSettleSuggestion(t *testing.T) {
	buyer, seller, arbiter := newKey(t), newKey(t), newKey(t)
	escrow := Escrow{Buyer: buyer, Seller: seller, Arbiter: arbiter, Timeout: 800000}
	c := newCompiler(t)
	sess := compiler.NewSession()

	payee, err := PayToKey(seller)
	require.NoError(t, err)
	raw := fmt.Sprintf(`{"payee":%q}`, hex.EncodeToString(payee))
	b, err := c.Suggest(context.Background(), sess, escrow, 50000, "settle", []byte(raw))
	require.NoError(t, err)
	assert.True(t, b.Finish)
	require.Len(t, b.Templates, 1)
	require.NoError(t, b.Templates[0].Check())
	assert.Equal(t, payee, b.Templates[0].Outputs[0].Script)
	assert.Equal(t, amount.Amount(50000)-DefaultFee, b.Templates[0].Outputs[0].Amount)

	_, err = c.Suggest(context.Background(), sess, escrow, 50000, "settle", []byte(`{}`))
	var se *contract.SchemaError
	assert.True(t, errors.As(err, &se), "got %v", err)
}

func payments(n int, value amount.Amount) []contract.Payment {
	out := make([]contract.Payment, n)
	for i := range out {
		script := append([]byte{0x00, 0x14}, make([]byte, 20)...)
		script[2] = byte(i)
		out[i] = contract.Payment{Amount: value, Script: hex.EncodeToString(script)}
	}
	return out
}

func TestBatchTree(t *testing.T) {
	b := Batch{Payments: payments(10, 10000), Radix: 3}
	need, err := b.Required()
	require.NoError(t, err)

	sess := compiler.NewSession()
	obj, err := newCompiler(t).Compile(context.Background(), sess, b, need+500)
	require.NoError(t, err)
	conserved(t, sess, obj)

	// 按顺序收集所有叶子支付
	var paid []string
	var collect func(o *compiler.Object)
	collect = func(o *compiler.Object) {
		tmpl := o.Branches[0].Templates[0]
		links := map[int]bool{}
		for _, l := range o.Branches[0].Links {
			links[l.Output] = true
		}
		for i, out := range tmpl.Outputs {
			if !links[i] {
				paid = append(paid, hex.EncodeToString(out.Script))
				continue
			}
			for _, l := range o.Branches[0].Links {
				if l.Output == i {
					child, ok := sess.Lookup(l.Child)
					require.True(t, ok)
					collect(child)
				}
			}
		}
	}
	collect(obj)

	want := make([]string, 0, len(b.Payments))
	for _, p := range b.Payments {
		want = append(want, p.Script)
	}
	assert.Equal(t, want, paid)
	assert.Equal(t, amount.Amount(1500), obj.Branches[0].Templates[0].Fee)
}

func TestBatchSharedSubtrees(t *testing.T) {
	same := make([]contract.Payment, 6)
	for i := range same {
		same[i] = payments(1, 10000)[0]
	}
	b := Batch{Payments: same, Radix: 2}
	need, err := b.Required()
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(67000), need)

	sess := compiler.NewSession()
	obj, err := newCompiler(t).Compile(context.Background(), sess, b, 70000)
	require.NoError(t, err)
	assert.Len(t, obj.Children, 1, "both halves are the same subtree")
	assert.Equal(t, int64(4), sess.Evaluations())
	assert.Equal(t, 4, sess.Len())
}

func TestBatchScriptCase(t *testing.T) {
	lower := payments(3, 10000)
	upper := make([]contract.Payment, len(lower))
	for i := range lower {
		lower[i].Script = lower[i].Script[:6] + "ab" + lower[i].Script[8:]
		upper[i] = contract.Payment{Amount: lower[i].Amount, Script: strings.ToUpper(lower[i].Script)}
	}
	require.NotEqual(t, lower[0].Script, upper[0].Script)

	c, sess := newCompiler(t), compiler.NewSession()
	a, err := c.Compile(context.Background(), sess, Batch{Payments: lower, Radix: 4}, 31000)
	require.NoError(t, err)
	evals := sess.Evaluations()
	b, err := c.Compile(context.Background(), sess, Batch{Payments: upper, Radix: 4}, 31000)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, evals, sess.Evaluations())
}

func TestBatchInsufficientFunding(t *testing.T) {
	b := Batch{Payments: payments(5, 10000), Radix: 2}
	need, err := b.Required()
	require.NoError(t, err)

	_, err = newCompiler(t).Compile(context.Background(), compiler.NewSession(), b, need-1)
	assert.ErrorIs(t, err, amount.ErrAmount)
}

func TestModules(t *testing.T) {
	reg := contract.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Equal(t, []string{"batch", "escrow", "vault"}, reg.Names())
	assert.Error(t, Register(reg), "modules register once")

	c := newCompiler(t)
	hot, cold := newKey(t), newKey(t)
	raw := fmt.Sprintf(`{"hot":%q,"cold":%q,"delay":10}`, hot, cold)
	obj, err := c.CompileModule(context.Background(), compiler.NewSession(), reg, "vault", "", []byte(raw), 100000)
	require.NoError(t, err)
	assert.Equal(t, "vault", obj.TypeID)

	// 构造器直接得到的合约与模块构造的合约缓存键相同
	direct, err := c.Compile(context.Background(), compiler.NewSession(), Vault{Hot: hot, Cold: cold, Delay: 10}, 100000)
	require.NoError(t, err)
	assert.Equal(t, direct.Key, obj.Key)

	tests := []struct {
		name, module, raw string
	}{
		{"vault delay too long", "vault", fmt.Sprintf(`{"hot":%q,"cold":%q,"delay":70000}`, hot, cold)},
		{"vault missing cold", "vault", fmt.Sprintf(`{"hot":%q,"delay":10}`, hot)},
		{"batch empty", "batch", `{"payments":[]}`},
		{"batch radix", "batch", `{"payments":[{"amount":1000,"script":"51"}],"radix":1}`},
		{"escrow timeout as time", "escrow", fmt.Sprintf(`{"buyer":%q,"seller":%q,"arbiter":%q,"timeout":600000000}`, hot, cold, hot)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := c.CompileModule(context.Background(), compiler.NewSession(), reg, test.module, "", []byte(test.raw), 100000)
			var se *contract.SchemaError
			assert.True(t, errors.As(err, &se), "got %v", err)
		})
	}

	raw = `{"payments":[{"amount":1000,"script":"0014000000000000000000000000000000000000000a"},{"amount":2000,"script":"0014000000000000000000000000000000000000000b"}],"radix":2,"fee":1500}`
	obj, err = c.CompileModule(context.Background(), compiler.NewSession(), reg, "batch", "1.0.0", []byte(raw), 5000)
	require.NoError(t, err)
	assert.Len(t, obj.Branches[0].Templates[0].Outputs, 2)

	// 十六进制大小写不同的脚本得到同一个合约
	upper, err := c.CompileModule(context.Background(), compiler.NewSession(), reg, "batch", "1.0.0", []byte(strings.ReplaceAll(raw, "0a\"", "0A\"")), 5000)
	require.NoError(t, err)
	assert.Equal(t, obj.Key, upper.Key)
	assert.Equal(t, obj.Digest, upper.Digest)
}
