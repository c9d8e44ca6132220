package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/qinglongcn/covenant/cache"
)

// ErrPoisoned 会话在一致性错误之后拒绝继续编译
var ErrPoisoned = errors.New("session poisoned by a consistency violation")

// RecursionLimitError 超过最大嵌套深度，或合约图中出现环
type RecursionLimitError struct {
	Limit int
	Depth int
	Cycle bool
	Path  []cache.Key
}

func (e *RecursionLimitError) Error() string {
	if e.Cycle {
		return fmt.Sprintf("contract graph contains a cycle at depth %d", e.Depth)
	}
	return fmt.Sprintf("recursion depth %d exceeds limit %d", e.Depth, e.Limit)
}

// BranchError 延续的分支无法编译
type BranchError struct {
	TypeID  string
	Branch  string
	Reason  string
	Reasons []string // 条件编译 Fail 携带的原因
}

func (e *BranchError) Error() string {
	msg := fmt.Sprintf("%s: branch %q: %s", e.TypeID, e.Branch, e.Reason)
	if len(e.Reasons) > 0 {
		msg += " (" + strings.Join(e.Reasons, "; ") + ")"
	}
	return msg
}

// PathError 把错误归属到从顶层合约到出错合约的键路径上
type PathError struct {
	Path   []cache.Key
	TypeID string
	Err    error
}

func (e *PathError) Error() string {
	parts := make([]string, len(e.Path))
	for i, k := range e.Path {
		parts[i] = k.Short()
	}
	return fmt.Sprintf("compile %s at [%s]: %v", e.TypeID, strings.Join(parts, " > "), e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }
