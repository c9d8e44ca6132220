// 策略编译器：把子句树降级为类 miniscript 的描述符和 P2WSH 见证脚本。
//
// 编译是子句树上的纯函数：没有 I/O，没有隐藏状态。每种子句变体对应一个片段，
// 片段有 B 形式（在栈上留下结果）和 V 形式（校验失败即中止）。

package policy

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/qinglongcn/covenant/clause"
)

const (
	// OpCheckTemplateVerify BIP-119 复用 OP_NOP4
	OpCheckTemplateVerify = txscript.OP_NOP4

	// MaxMultiSigKeys OP_CHECKMULTISIG 允许的最大公钥数量
	MaxMultiSigKeys = txscript.MaxPubKeysPerMultiSig

	// sigSize DER 签名加 sighash 字节的最大长度
	sigSize = 73
)

// CommitmentMode 决定 TxCommitment 如何降级
type CommitmentMode uint8

const (
	// CommitCTV 使用 OP_CHECKTEMPLATEVERIFY
	CommitCTV CommitmentMode = iota
	// CommitEmulated 使用模拟器按模板哈希派生的公钥签名代替 CTV
	CommitEmulated
)

func (m CommitmentMode) String() string {
	if m == CommitEmulated {
		return "emulated"
	}
	return "ctv"
}

// KeyDeriver 模拟器按模板哈希派生承诺公钥
type KeyDeriver interface {
	PublicKeyFor(hash chainhash.Hash) (*btcec.PublicKey, error)
}

// Limits 脚本大小与满足代价的上限
type Limits struct {
	MaxScriptSize       int // 见证脚本最大字节数
	MaxSatisfactionSize int // 满足见证（不含脚本）最大字节数
	MaxWitnessItems     int // 见证栈最大元素数（含脚本）
}

// DefaultLimits 返回标准 P2WSH 的限制
func DefaultLimits() Limits {
	return Limits{
		MaxScriptSize:       3600,
		MaxSatisfactionSize: 3600,
		MaxWitnessItems:     100,
	}
}

// Options 策略编译选项
type Options struct {
	Limits  Limits
	Mode    CommitmentMode
	Deriver KeyDeriver // 仅 CommitEmulated 需要
}

// DefaultOptions 返回使用 CTV 承诺和标准限制的选项
func DefaultOptions() Options {
	return Options{Limits: DefaultLimits(), Mode: CommitCTV}
}

// Policy 编译后的花费条件
type Policy struct {
	Descriptor               string // 文本描述符 wsh(...)
	WitnessScript            []byte
	PkScript                 []byte // P2WSH 输出脚本
	ScriptSize               int
	MaxSatisfactionSize      int
	MaxWitnessItems          int
	ExpectedSatisfactionSize float64 // 按 Or 权重估算的平均见证大小

	root *frag
}

// Address 返回指定网络下的 P2WSH 地址
func (p *Policy) Address(params *chaincfg.Params) (string, error) {
	h := sha256.Sum256(p.WitnessScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(h[:], params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// Compile 编译子句为花费条件
func Compile(c clause.Clause, opts Options) (*Policy, error) {
	if c == nil {
		return nil, newError(nil, "empty clause", clause.ErrNilClause)
	}
	lim := opts.Limits
	if lim == (Limits{}) {
		lim = DefaultLimits()
	}

	f, err := (&lowering{opts: opts}).lower(c)
	if err != nil {
		return nil, err
	}

	b := txscript.NewScriptBuilder()
	f.emitB(b)
	script, err := b.Script()
	if err != nil {
		return nil, newError(c, "script exceeds engine limits", err)
	}
	if len(script) > lim.MaxScriptSize {
		return nil, newError(nil, fmt.Sprintf("script size %d exceeds limit %d", len(script), lim.MaxScriptSize), nil)
	}
	if f.maxSat > lim.MaxSatisfactionSize {
		return nil, newError(nil, fmt.Sprintf("satisfaction size %d exceeds limit %d", f.maxSat, lim.MaxSatisfactionSize), nil)
	}
	if f.maxItems+1 > lim.MaxWitnessItems {
		return nil, newError(nil, fmt.Sprintf("witness items %d exceed limit %d", f.maxItems+1, lim.MaxWitnessItems), nil)
	}

	h := sha256.Sum256(script)
	pkScript, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).AddData(h[:]).Script()
	if err != nil {
		return nil, newError(c, "p2wsh script", err)
	}

	return &Policy{
		Descriptor:               "wsh(" + f.desc + ")",
		WitnessScript:            script,
		PkScript:                 pkScript,
		ScriptSize:               len(script),
		MaxSatisfactionSize:      f.maxSat,
		MaxWitnessItems:          f.maxItems + 1,
		ExpectedSatisfactionSize: f.expSat,
		root:                     f,
	}, nil
}

// 时间锁组合掩码：每条满足路径上出现的锁类型
const (
	maskAbsHeight = 1 << iota
	maskAbsTime
	maskRelHeight
	maskRelTime
)

// pathSet 以位图记录所有可达的时间锁掩码（共 16 种）
type pathSet uint16

func single(mask int) pathSet { return pathSet(1) << mask }

func (p pathSet) and(q pathSet) pathSet {
	var out pathSet
	for a := 0; a < 16; a++ {
		if p&(1<<a) == 0 {
			continue
		}
		for b := 0; b < 16; b++ {
			if q&(1<<b) != 0 {
				out |= 1 << (a | b)
			}
		}
	}
	return out
}

func (p pathSet) mixed() bool {
	for m := 0; m < 16; m++ {
		if p&(1<<m) == 0 {
			continue
		}
		if m&(maskAbsHeight|maskAbsTime) == maskAbsHeight|maskAbsTime ||
			m&(maskRelHeight|maskRelTime) == maskRelHeight|maskRelTime {
			return true
		}
	}
	return false
}

// frag 一个已降级的子句片段
type frag struct {
	desc     string // B 形式描述符
	vdesc    string // V 形式描述符，空表示不产生任何脚本
	emitB    func(b *txscript.ScriptBuilder)
	emitV    func(b *txscript.ScriptBuilder)
	maxSat   int
	maxItems int
	expSat   float64
	paths    pathSet
	// satisfy 返回自底向上的见证元素
	satisfy func(s Satisfier) ([][]byte, bool)
}

type lowering struct {
	opts Options
}

func (l *lowering) lower(c clause.Clause) (*frag, error) {
	switch v := c.(type) {
	case clause.Trivial:
		return l.trivial(), nil
	case clause.Signed:
		return l.pk(v, v.Key)
	case clause.SignedBy:
		return l.multi(v)
	case clause.After:
		return l.after(v)
	case clause.Before:
		return l.older(v)
	case clause.TxCommitment:
		return l.txtmpl(v)
	case clause.And:
		return l.and(v)
	case clause.Or:
		return l.or(v)
	case nil:
		return nil, newError(nil, "empty clause", clause.ErrNilClause)
	default:
		return nil, newError(c, fmt.Sprintf("unknown clause type %T", c), nil)
	}
}

func (l *lowering) trivial() *frag {
	return &frag{
		desc:    "1",
		emitB:   func(b *txscript.ScriptBuilder) { b.AddOp(txscript.OP_TRUE) },
		emitV:   func(*txscript.ScriptBuilder) {},
		paths:   single(0),
		satisfy: func(Satisfier) ([][]byte, bool) { return nil, true },
	}
}

func (l *lowering) pk(c clause.Clause, key clause.KeyID) (*frag, error) {
	raw, err := key.Bytes()
	if err != nil {
		return nil, newError(c, "invalid key", err)
	}
	return pkFrag(string(key), raw, key), nil
}

func pkFrag(name string, raw []byte, key clause.KeyID) *frag {
	desc := "pk(" + name + ")"
	return &frag{
		desc:  desc,
		vdesc: "v:" + desc,
		emitB: func(b *txscript.ScriptBuilder) {
			b.AddData(raw).AddOp(txscript.OP_CHECKSIG)
		},
		emitV: func(b *txscript.ScriptBuilder) {
			b.AddData(raw).AddOp(txscript.OP_CHECKSIGVERIFY)
		},
		maxSat:   1 + sigSize,
		maxItems: 1,
		expSat:   1 + sigSize,
		paths:    single(0),
		satisfy: func(s Satisfier) ([][]byte, bool) {
			sig, ok := s.Signature(key)
			if !ok {
				return nil, false
			}
			return [][]byte{sig}, true
		},
	}
}

func (l *lowering) multi(c clause.SignedBy) (*frag, error) {
	n := len(c.Keys)
	if c.Threshold <= 0 || c.Threshold > n {
		return nil, newError(c, "impossible threshold", clause.ErrThreshold)
	}
	if n > MaxMultiSigKeys {
		return nil, newError(c, fmt.Sprintf("%d keys exceed multisig limit %d", n, MaxMultiSigKeys), nil)
	}
	raws := make([][]byte, n)
	seen := make(map[clause.KeyID]struct{}, n)
	names := make([]string, n)
	for i, k := range c.Keys {
		if _, dup := seen[k]; dup {
			return nil, newError(c, "duplicate key "+string(k), nil)
		}
		seen[k] = struct{}{}
		raw, err := k.Bytes()
		if err != nil {
			return nil, newError(c, "invalid key", err)
		}
		raws[i] = raw
		names[i] = string(k)
	}
	keys := append([]clause.KeyID(nil), c.Keys...)
	k := c.Threshold
	emit := func(b *txscript.ScriptBuilder, op byte) {
		b.AddInt64(int64(k))
		for _, raw := range raws {
			b.AddData(raw)
		}
		b.AddInt64(int64(n)).AddOp(op)
	}
	desc := fmt.Sprintf("multi(%d,%s)", k, strings.Join(names, ","))
	size := 1 + k*(1+sigSize)
	return &frag{
		desc:     desc,
		vdesc:    "v:" + desc,
		emitB:    func(b *txscript.ScriptBuilder) { emit(b, txscript.OP_CHECKMULTISIG) },
		emitV:    func(b *txscript.ScriptBuilder) { emit(b, txscript.OP_CHECKMULTISIGVERIFY) },
		maxSat:   size,
		maxItems: 1 + k,
		expSat:   float64(size),
		paths:    single(0),
		satisfy: func(s Satisfier) ([][]byte, bool) {
			// OP_CHECKMULTISIG 多弹出一个元素；签名按公钥顺序排列
			items := [][]byte{{}}
			for _, key := range keys {
				if len(items) == k+1 {
					break
				}
				if sig, ok := s.Signature(key); ok {
					items = append(items, sig)
				}
			}
			if len(items) != k+1 {
				return nil, false
			}
			return items, true
		},
	}, nil
}

// timelockFrag <n> OP_CHECK*VERIFY；B 形式把 n 留在栈上（n>0 为真）
func timelockFrag(desc string, value uint32, op byte, mask int, ok func(Satisfier) bool) *frag {
	return &frag{
		desc:  desc,
		vdesc: "v:" + desc,
		emitB: func(b *txscript.ScriptBuilder) {
			b.AddInt64(int64(value)).AddOp(op)
		},
		emitV: func(b *txscript.ScriptBuilder) {
			b.AddInt64(int64(value)).AddOp(op).AddOp(txscript.OP_DROP)
		},
		paths: single(mask),
		satisfy: func(s Satisfier) ([][]byte, bool) {
			return nil, ok(s)
		},
	}
}

func (l *lowering) after(c clause.After) (*frag, error) {
	value, ok := encodeAbsolute(c.Lock)
	if !ok {
		return nil, newError(c, "locktime out of range", nil)
	}
	mask := maskAbsHeight
	if c.Lock.Kind == clause.KindTime {
		mask = maskAbsTime
	}
	lock := c.Lock
	return timelockFrag(fmt.Sprintf("after(%d)", value), value, txscript.OP_CHECKLOCKTIMEVERIFY, mask,
		func(s Satisfier) bool { return s.AfterSatisfied(lock) }), nil
}

func (l *lowering) older(c clause.Before) (*frag, error) {
	value, ok := encodeRelative(c.Lock)
	if !ok {
		return nil, newError(c, "locktime out of range", nil)
	}
	mask := maskRelHeight
	if c.Lock.Kind == clause.KindTime {
		mask = maskRelTime
	}
	lock := c.Lock
	return timelockFrag(fmt.Sprintf("older(%d)", value), value, txscript.OP_CHECKSEQUENCEVERIFY, mask,
		func(s Satisfier) bool { return s.OlderSatisfied(lock) }), nil
}

func (l *lowering) txtmpl(c clause.TxCommitment) (*frag, error) {
	if c.Hash == (chainhash.Hash{}) {
		return nil, newError(c, "zero template hash", nil)
	}
	if l.opts.Mode == CommitEmulated {
		if l.opts.Deriver == nil {
			return nil, newError(c, "emulated commitments require a key deriver", nil)
		}
		pub, err := l.opts.Deriver.PublicKeyFor(c.Hash)
		if err != nil {
			return nil, newError(c, "derive emulator key", err)
		}
		key := clause.NewKeyID(pub)
		return pkFrag(string(key), pub.SerializeCompressed(), key), nil
	}

	hash := c.Hash
	desc := fmt.Sprintf("txtmpl(%x)", hash[:])
	return &frag{
		desc:  desc,
		vdesc: "v:" + desc,
		emitB: func(b *txscript.ScriptBuilder) {
			b.AddData(hash[:]).AddOp(OpCheckTemplateVerify)
		},
		emitV: func(b *txscript.ScriptBuilder) {
			b.AddData(hash[:]).AddOp(OpCheckTemplateVerify).AddOp(txscript.OP_DROP)
		},
		paths: single(0),
		satisfy: func(s Satisfier) ([][]byte, bool) {
			return nil, s.TemplateMatches(hash)
		},
	}, nil
}

func (l *lowering) and(c clause.And) (*frag, error) {
	left, err := l.lower(c.Left)
	if err != nil {
		return nil, err
	}
	right, err := l.lower(c.Right)
	if err != nil {
		return nil, err
	}
	paths := left.paths.and(right.paths)
	if paths.mixed() {
		return nil, newError(c, "mixed height and time timelocks", nil)
	}

	desc, vdesc := right.desc, right.vdesc
	if left.vdesc != "" {
		desc = "and_v(" + left.vdesc + "," + right.desc + ")"
		vdesc = "and_v(" + left.vdesc + "," + right.vdesc + ")"
		if right.vdesc == "" {
			vdesc = left.vdesc
		}
	}
	return &frag{
		desc:  desc,
		vdesc: vdesc,
		emitB: func(b *txscript.ScriptBuilder) {
			left.emitV(b)
			right.emitB(b)
		},
		emitV: func(b *txscript.ScriptBuilder) {
			left.emitV(b)
			right.emitV(b)
		},
		maxSat:   left.maxSat + right.maxSat,
		maxItems: left.maxItems + right.maxItems,
		expSat:   left.expSat + right.expSat,
		paths:    paths,
		satisfy: func(s Satisfier) ([][]byte, bool) {
			// 左侧先执行，所以左侧元素位于栈顶
			r, ok := right.satisfy(s)
			if !ok {
				return nil, false
			}
			lw, ok := left.satisfy(s)
			if !ok {
				return nil, false
			}
			return append(append([][]byte{}, r...), lw...), true
		},
	}, nil
}

func (l *lowering) or(c clause.Or) (*frag, error) {
	if len(c.Branches) == 0 {
		return nil, newError(c, "empty or", clause.ErrEmptyOr)
	}
	frags := make([]*frag, len(c.Branches))
	weights := make([]float64, len(c.Branches))
	for i, br := range c.Branches {
		if br.Weight == 0 {
			return nil, newError(c, "zero weight", clause.ErrWeight)
		}
		f, err := l.lower(br.Clause)
		if err != nil {
			return nil, err
		}
		frags[i] = f
		weights[i] = float64(br.Weight)
	}

	// 从右向左折叠为嵌套的 or_i
	cur, curWeight := frags[len(frags)-1], weights[len(weights)-1]
	for i := len(frags) - 2; i >= 0; i-- {
		cur = orI(frags[i], weights[i], cur, curWeight)
		curWeight += weights[i]
	}
	return cur, nil
}

var selTrue = []byte{0x01}

// orI OP_IF x OP_ELSE y OP_ENDIF，选择子由见证提供
func orI(x *frag, wx float64, y *frag, wy float64) *frag {
	desc := "or_i(" + x.desc + "," + y.desc + ")"
	f := &frag{
		desc:  desc,
		vdesc: "v:" + desc,
		emitB: func(b *txscript.ScriptBuilder) {
			b.AddOp(txscript.OP_IF)
			x.emitB(b)
			b.AddOp(txscript.OP_ELSE)
			y.emitB(b)
			b.AddOp(txscript.OP_ENDIF)
		},
		maxSat:   maxInt(x.maxSat+2, y.maxSat+1),
		maxItems: maxInt(x.maxItems, y.maxItems) + 1,
		expSat:   (wx*(x.expSat+2) + wy*(y.expSat+1)) / (wx + wy),
		paths:    x.paths | y.paths,
		satisfy: func(s Satisfier) ([][]byte, bool) {
			xw, xok := x.satisfy(s)
			yw, yok := y.satisfy(s)
			if xok {
				xw = append(append([][]byte{}, xw...), selTrue)
			}
			if yok {
				yw = append(append([][]byte{}, yw...), []byte{})
			}
			switch {
			case xok && yok:
				if witnessSize(yw) < witnessSize(xw) {
					return yw, true
				}
				return xw, true
			case xok:
				return xw, true
			case yok:
				return yw, true
			}
			return nil, false
		},
	}
	f.emitV = func(b *txscript.ScriptBuilder) {
		f.emitB(b)
		b.AddOp(txscript.OP_VERIFY)
	}
	return f
}

func witnessSize(items [][]byte) int {
	n := 0
	for _, it := range items {
		n += 1 + len(it)
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
