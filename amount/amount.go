// 金额模型：以最小货币单位（聪）计数的无符号整数，禁止浮点运算。

package amount

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Amount 表示以聪为单位的金额
type Amount uint64

// MaxAmount 比特币总量上限（21,000,000 BTC）
const MaxAmount Amount = 21_000_000 * 100_000_000

// ErrAmount 所有金额错误都可以用 errors.Is 匹配到它
var ErrAmount = errors.New("amount error")

// Error 金额守恒被破坏、资金不足或手续费低于下限
type Error struct {
	Op     string // 出错的运算
	Reason string // 原因
	Have   Amount // 可用金额
	Want   Amount // 需要的金额
}

func (e *Error) Error() string {
	return fmt.Sprintf("amount %s: %s (have %d, want %d)", e.Op, e.Reason, e.Have, e.Want)
}

// Is 让 errors.Is(err, ErrAmount) 成立
func (e *Error) Is(target error) bool {
	return target == ErrAmount
}

// Add 返回 a+b，溢出或超过总量上限时失败
func (a Amount) Add(b Amount) (Amount, error) {
	if uint64(b) > math.MaxUint64-uint64(a) {
		return 0, &Error{Op: "add", Reason: "overflow", Have: a, Want: b}
	}
	sum := a + b
	if sum > MaxAmount {
		return 0, &Error{Op: "add", Reason: "exceeds money supply", Have: sum, Want: MaxAmount}
	}
	return sum, nil
}

// Sub 返回 a-b，下溢时失败
func (a Amount) Sub(b Amount) (Amount, error) {
	if b > a {
		return 0, &Error{Op: "sub", Reason: "underflow", Have: a, Want: b}
	}
	return a - b, nil
}

// Sum 按顺序累加所有金额
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, v := range amounts {
		next, err := total.Add(v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// Valid 检查金额是否在总量上限之内
func (a Amount) Valid() error {
	if a > MaxAmount {
		return &Error{Op: "check", Reason: "exceeds money supply", Have: a, Want: MaxAmount}
	}
	return nil
}

// String 返回可读形式
func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10) + " sat"
}
