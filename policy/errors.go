package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrPolicy 所有策略编译错误都可以用 errors.Is 匹配到它
	ErrPolicy = errors.New("policy error")
	// ErrUnsatisfiable 花费时找不到满足条件的见证。这是花费时的检查，与编译期错误无关。
	ErrUnsatisfiable = errors.New("no satisfying witness")
)

// Error 花费条件不可满足或超出大小限制
type Error struct {
	Clause string // 出错的子句
	Reason string
	Err    error // 底层错误，可能为 nil
}

func (e *Error) Error() string {
	msg := "policy: " + e.Reason
	if e.Clause != "" {
		msg += " in " + e.Clause
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrPolicy) 成立
func (e *Error) Is(target error) bool { return target == ErrPolicy }

func newError(c fmt.Stringer, reason string, err error) *Error {
	e := &Error{Reason: reason, Err: err}
	if c != nil {
		e.Clause = c.String()
	}
	return e
}
