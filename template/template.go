// 交易模板：未签名但结构完整的交易骨架（输入、输出、金额、时间锁）。
//
// 模板的承诺哈希采用 BIP-119 默认模板哈希，不依赖被花费的 outpoint，
// 因此父交易尚未确定时就可以计算并嵌入父输出脚本。

package template

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/qinglongcn/covenant/amount"
)

// DefaultVersion 版本 2 才能使用 BIP-68 相对时间锁
const DefaultVersion int32 = 2

var (
	// ErrUnresolved 模板仍有未填充的承诺占位符
	ErrUnresolved = errors.New("template has unresolved commitment placeholders")
	// ErrNoOutputs 模板没有输出
	ErrNoOutputs = errors.New("template has no outputs")
	// ErrNoInputs 模板没有输入
	ErrNoInputs = errors.New("template has no inputs")
)

// Input 引用父交易的一个输出
type Input struct {
	ParentIndex uint32 // 父交易输出索引
	Sequence    uint32 // nSequence，可携带 BIP-68 相对时间锁
}

// Output 模板输出：终端脚本或等待嵌套合约承诺的占位符
type Output struct {
	Amount  amount.Amount
	Script  []byte
	Pending bool   // 为 true 时 Script 尚未确定
	Label   string // 调试用标签
}

// Template 交易模板
type Template struct {
	Version  int32
	LockTime uint32
	Inputs   []Input
	Outputs  []Output
	Funding  amount.Amount // 所有输入金额之和
	Fee      amount.Amount
	Label    string
}

// Resolved 所有占位符都已填充
func (t *Template) Resolved() bool {
	for _, out := range t.Outputs {
		if out.Pending {
			return false
		}
	}
	return true
}

// Resolve 用嵌套合约的锁定脚本替换第 i 个输出的占位符
func (t *Template) Resolve(i int, script []byte) error {
	if i < 0 || i >= len(t.Outputs) {
		return fmt.Errorf("resolve output %d: index out of range", i)
	}
	if !t.Outputs[i].Pending {
		return fmt.Errorf("resolve output %d: not a commitment placeholder", i)
	}
	if len(script) == 0 {
		return fmt.Errorf("resolve output %d: empty script", i)
	}
	t.Outputs[i].Script = append([]byte(nil), script...)
	t.Outputs[i].Pending = false
	return nil
}

// Check 校验金额守恒：输出之和 + 手续费 == 输入之和
func (t *Template) Check() error {
	outs := make([]amount.Amount, 0, len(t.Outputs)+1)
	for _, out := range t.Outputs {
		outs = append(outs, out.Amount)
	}
	outs = append(outs, t.Fee)
	total, err := amount.Sum(outs...)
	if err != nil {
		return err
	}
	if total != t.Funding {
		return &amount.Error{Op: "check", Reason: "outputs plus fee do not equal inputs", Have: t.Funding, Want: total}
	}
	return nil
}

// Clone 深拷贝
func (t *Template) Clone() *Template {
	cp := *t
	cp.Inputs = append([]Input(nil), t.Inputs...)
	cp.Outputs = make([]Output, len(t.Outputs))
	for i, out := range t.Outputs {
		out.Script = append([]byte(nil), out.Script...)
		cp.Outputs[i] = out
	}
	return &cp
}

// Hash 计算 BIP-119 默认模板哈希（输入索引 0）
func (t *Template) Hash() (chainhash.Hash, error) {
	return t.HashAt(0)
}

// HashAt 计算第 idx 个输入的 BIP-119 默认模板哈希
func (t *Template) HashAt(idx uint32) (chainhash.Hash, error) {
	tx, err := t.MsgTx(chainhash.Hash{})
	if err != nil {
		return chainhash.Hash{}, err
	}
	return CTVHash(tx, idx)
}

// CTVHash 计算交易第 idx 个输入的 BIP-119 默认模板哈希。
// 哈希不覆盖被花费的 outpoint，因此父交易未确定时也能计算。
func CTVHash(tx *wire.MsgTx, idx uint32) (chainhash.Hash, error) {
	if int(idx) >= len(tx.TxIn) {
		return chainhash.Hash{}, fmt.Errorf("input index %d out of range", idx)
	}

	var buf bytes.Buffer
	var scratch [4]byte
	putUint32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:], v)
		buf.Write(scratch[:])
	}

	putUint32(uint32(tx.Version))
	putUint32(tx.LockTime)

	// 只有存在非空 scriptSig 时才承诺 scriptSig
	var sigScripts bytes.Buffer
	hasSigScript := false
	for _, in := range tx.TxIn {
		if len(in.SignatureScript) > 0 {
			hasSigScript = true
		}
		if err := wire.WriteVarBytes(&sigScripts, 0, in.SignatureScript); err != nil {
			return chainhash.Hash{}, err
		}
	}
	if hasSigScript {
		buf.Write(chainhash.HashB(sigScripts.Bytes()))
	}

	putUint32(uint32(len(tx.TxIn)))
	var seqs bytes.Buffer
	for _, in := range tx.TxIn {
		binary.LittleEndian.PutUint32(scratch[:], in.Sequence)
		seqs.Write(scratch[:])
	}
	buf.Write(chainhash.HashB(seqs.Bytes()))

	putUint32(uint32(len(tx.TxOut)))
	var outs bytes.Buffer
	for _, out := range tx.TxOut {
		if err := wire.WriteTxOut(&outs, 0, tx.Version, out); err != nil {
			return chainhash.Hash{}, err
		}
	}
	buf.Write(chainhash.HashB(outs.Bytes()))

	putUint32(idx)
	return chainhash.HashH(buf.Bytes()), nil
}

// MsgTx 生成花费父交易 parent 的标准交易。占位符未全部填充时失败。
func (t *Template) MsgTx(parent chainhash.Hash) (*wire.MsgTx, error) {
	if !t.Resolved() {
		return nil, ErrUnresolved
	}
	if len(t.Inputs) == 0 {
		return nil, ErrNoInputs
	}
	tx := wire.NewMsgTx(t.Version)
	tx.LockTime = t.LockTime
	for _, in := range t.Inputs {
		txIn := wire.NewTxIn(wire.NewOutPoint(&parent, in.ParentIndex), nil, nil)
		txIn.Sequence = in.Sequence
		tx.AddTxIn(txIn)
	}
	for _, out := range t.Outputs {
		tx.AddTxOut(wire.NewTxOut(int64(out.Amount), out.Script))
	}
	return tx, nil
}

// Serialize 以比特币线格式序列化
func (t *Template) Serialize(parent chainhash.Hash) ([]byte, error) {
	tx, err := t.MsgTx(parent)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
