package policy

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/qinglongcn/covenant/clause"
)

const (
	// lockTimeThreshold 小于该值的 nLockTime 表示区块高度，否则表示 unix 时间
	lockTimeThreshold = 500000000

	// maxAbsoluteLock after() 的参数是 4 字节有符号脚本整数
	maxAbsoluteLock = 1<<31 - 1

	// maxRelativeUnits BIP-68 相对锁定值的最大单位数
	maxRelativeUnits = 0xffff

	// relativeTimeGranularity BIP-68 时间单位为 512 秒
	relativeTimeGranularity = 512
)

// Locks 花费交易满足某个守卫所需的最小 nLockTime 与 nSequence
type Locks struct {
	LockTime    uint32 // 0 表示无绝对时间锁
	Sequence    uint32 // wire.MaxTxInSequenceNum 表示无相对时间锁
	HasAbsolute bool
	HasRelative bool
}

// encodeAbsolute 校验并编码绝对时间锁
func encodeAbsolute(l clause.LockTime) (uint32, bool) {
	switch l.Kind {
	case clause.KindHeight:
		if l.Value == 0 || l.Value >= lockTimeThreshold {
			return 0, false
		}
	case clause.KindTime:
		if l.Value < lockTimeThreshold || l.Value > maxAbsoluteLock {
			return 0, false
		}
	default:
		return 0, false
	}
	return l.Value, true
}

// encodeRelative 校验并按 BIP-68 编码相对时间锁。秒数向上取整到 512 秒的倍数。
func encodeRelative(l clause.LockTime) (uint32, bool) {
	switch l.Kind {
	case clause.KindHeight:
		if l.Value == 0 || l.Value > maxRelativeUnits {
			return 0, false
		}
		return l.Value, true
	case clause.KindTime:
		units := (uint64(l.Value) + relativeTimeGranularity - 1) / relativeTimeGranularity
		if units == 0 || units > maxRelativeUnits {
			return 0, false
		}
		return wire.SequenceLockTimeIsSeconds | uint32(units), true
	}
	return 0, false
}

// RequiredLocks 计算守卫中必然生效的时间锁（不在 Or 之下的 After/Before），
// 模板据此设置 nLockTime 与 nSequence。Or 分支由花费者选择，不参与计算。
func RequiredLocks(c clause.Clause) (Locks, error) {
	locks := Locks{Sequence: wire.MaxTxInSequenceNum}
	var absKind, relKind clause.LockKind
	var err error

	clause.Walk(c, func(n clause.Clause) bool {
		if err != nil {
			return false
		}
		switch v := n.(type) {
		case clause.Or:
			return false
		case clause.After:
			enc, ok := encodeAbsolute(v.Lock)
			if !ok {
				err = newError(v, "locktime out of range", nil)
				return false
			}
			if locks.HasAbsolute && absKind != v.Lock.Kind {
				err = newError(c, "mixed absolute timelock kinds", nil)
				return false
			}
			absKind = v.Lock.Kind
			if !locks.HasAbsolute || enc > locks.LockTime {
				locks.LockTime = enc
			}
			locks.HasAbsolute = true
		case clause.Before:
			enc, ok := encodeRelative(v.Lock)
			if !ok {
				err = newError(v, "locktime out of range", nil)
				return false
			}
			if locks.HasRelative && relKind != v.Lock.Kind {
				err = newError(c, "mixed relative timelock kinds", nil)
				return false
			}
			relKind = v.Lock.Kind
			if !locks.HasRelative || enc > locks.Sequence {
				locks.Sequence = enc
			}
			locks.HasRelative = true
		}
		return true
	})
	if err != nil {
		return Locks{}, err
	}
	return locks, nil
}
