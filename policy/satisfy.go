package policy

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/qinglongcn/covenant/clause"
)

// Satisfier 花费时可用的签名和交易字段
type Satisfier interface {
	Signature(key clause.KeyID) ([]byte, bool)
	AfterSatisfied(lock clause.LockTime) bool
	OlderSatisfied(lock clause.LockTime) bool
	TemplateMatches(hash chainhash.Hash) bool
}

// Spend 描述一笔具体的花费交易，实现 Satisfier
type Spend struct {
	Signatures map[clause.KeyID][]byte // 已获得的签名
	LockTime   uint32                  // 花费交易的 nLockTime
	Sequence   uint32                  // 花费输入的 nSequence
	Template   *chainhash.Hash         // 花费交易的模板哈希
}

var _ Satisfier = (*Spend)(nil)

// Signature 返回公钥对应的签名
func (s *Spend) Signature(key clause.KeyID) ([]byte, bool) {
	sig, ok := s.Signatures[key]
	return sig, ok
}

// AfterSatisfied 按共识规则比较 nLockTime 与绝对时间锁
func (s *Spend) AfterSatisfied(lock clause.LockTime) bool {
	want, ok := encodeAbsolute(lock)
	if !ok {
		return false
	}
	if (s.LockTime < lockTimeThreshold) != (want < lockTimeThreshold) {
		return false
	}
	// nSequence 为最终值时 nLockTime 不生效
	if s.Sequence == wire.MaxTxInSequenceNum {
		return false
	}
	return s.LockTime >= want
}

// OlderSatisfied 按 BIP-68 比较 nSequence 与相对时间锁
func (s *Spend) OlderSatisfied(lock clause.LockTime) bool {
	want, ok := encodeRelative(lock)
	if !ok {
		return false
	}
	if s.Sequence&wire.SequenceLockTimeDisabled != 0 {
		return false
	}
	if s.Sequence&wire.SequenceLockTimeIsSeconds != want&wire.SequenceLockTimeIsSeconds {
		return false
	}
	return s.Sequence&wire.SequenceLockTimeMask >= want&wire.SequenceLockTimeMask
}

// TemplateMatches 判断花费交易是否就是被承诺的模板
func (s *Spend) TemplateMatches(hash chainhash.Hash) bool {
	return s.Template != nil && *s.Template == hash
}

// Satisfy 构造满足该策略的见证（最后一个元素为见证脚本）。
// 这是花费时的检查：编译成功的策略在签名不足时依然可能无法满足。
func (p *Policy) Satisfy(s Satisfier) (wire.TxWitness, error) {
	if p.root == nil {
		return nil, newError(nil, "policy has no compiled fragments", nil)
	}
	items, ok := p.root.satisfy(s)
	if !ok {
		return nil, ErrUnsatisfiable
	}
	witness := make(wire.TxWitness, 0, len(items)+1)
	witness = append(witness, items...)
	witness = append(witness, p.WitnessScript)
	return witness, nil
}
