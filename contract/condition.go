package contract

import "strings"

// ConditionKind 条件编译类型
type ConditionKind uint8

const (
	// NoConstraint 不施加约束，合并时是单位元
	NoConstraint ConditionKind = iota
	// Required 分支必须产生模板
	Required
	// Skippable 可以不求值直接跳过
	Skippable
	// Nullable 没有产生模板时剪除，不算错误
	Nullable
	// Never 分支永远不可用
	Never
	// Fail 分支必定失败
	Fail
)

var conditionNames = [...]string{"no_constraint", "required", "skippable", "nullable", "never", "fail"}

func (k ConditionKind) String() string {
	if int(k) < len(conditionNames) {
		return conditionNames[k]
	}
	return "unknown"
}

// Condition 条件编译约束
type Condition struct {
	Kind    ConditionKind
	Reasons []string // 仅 Fail 使用
}

// Failed 构造一个带原因的 Fail
func Failed(reasons ...string) Condition {
	return Condition{Kind: Fail, Reasons: append([]string(nil), reasons...)}
}

func (c Condition) String() string {
	if c.Kind == Fail && len(c.Reasons) > 0 {
		return "fail(" + strings.Join(c.Reasons, "; ") + ")"
	}
	return c.Kind.String()
}

// Merge 合并两个约束。优先级：
//
//	Fail > 其他；两个 Fail 合并原因
//	NoConstraint 是单位元
//	Never 与 Required 冲突，结果为 Fail
//	Never > {Skippable, Nullable}
//	Required > {Skippable, Nullable}
//	Skippable > Nullable
func Merge(a, b Condition) Condition {
	switch {
	case a.Kind == NoConstraint:
		return b
	case b.Kind == NoConstraint:
		return a
	case a.Kind == Fail && b.Kind == Fail:
		return Failed(append(append([]string(nil), a.Reasons...), b.Reasons...)...)
	case a.Kind == Fail:
		return a
	case b.Kind == Fail:
		return b
	case a.Kind == Never && b.Kind == Required, a.Kind == Required && b.Kind == Never:
		return Failed("Never and Required incompatible")
	case a.Kind == Never || b.Kind == Never:
		return Condition{Kind: Never}
	case a.Kind == Required || b.Kind == Required:
		return Condition{Kind: Required}
	case a.Kind == Skippable || b.Kind == Skippable:
		return Condition{Kind: Skippable}
	}
	return Condition{Kind: Nullable}
}
