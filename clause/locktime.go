package clause

import "fmt"

// LockKind 时间锁单位
type LockKind uint8

const (
	// KindHeight 以区块高度计
	KindHeight LockKind = iota
	// KindTime 以秒计（绝对锁为 unix 时间戳，相对锁为经过的秒数）
	KindTime
)

// LockTime 时间锁的值。引擎只负责编码，不校验链上时间。
type LockTime struct {
	Kind  LockKind
	Value uint32
}

// Height 以区块高度表示的时间锁
func Height(n uint32) LockTime {
	return LockTime{Kind: KindHeight, Value: n}
}

// Seconds 以秒表示的时间锁
func Seconds(n uint32) LockTime {
	return LockTime{Kind: KindTime, Value: n}
}

func (l LockTime) String() string {
	if l.Kind == KindTime {
		return fmt.Sprintf("%ds", l.Value)
	}
	return fmt.Sprintf("%d", l.Value)
}
