// 合约模型：合约是一个带类型标识和规范参数的值，
// 其延续（Branches）描述资金在哪些守卫下可以流向哪些后续交易。

package contract

import (
	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/clause"
)

// Contract 合约
type Contract interface {
	// TypeID 合约类型标识，参与缓存键计算
	TypeID() string
	// Args 规范化参数，必须能被 encoding/json 确定性地序列化
	Args() any
	// Branches 延续：给定编译上下文，返回按顺序排列的分支。
	// 对同一个合约值必须返回相同的结果。
	Branches(ctx Context) ([]Branch, error)
}

// Context 编译上下文
type Context struct {
	Funding amount.Amount // 合约锁定的金额
	Depth   int           // 在合约图中的深度，顶层为 0
}

// NextState 输出的去向：终端脚本或嵌套合约
type NextState interface {
	isNextState()
}

// Pay 支付到一个终端输出脚本
type Pay struct {
	Script []byte
}

// Nested 资金进入另一个合约
type Nested struct {
	Contract Contract
}

func (Pay) isNextState()    {}
func (Nested) isNextState() {}

// Output 模板输出
type Output struct {
	Amount amount.Amount
	Next   NextState
	Label  string
}

// Spec 一个交易模板的描述。
// LockTime 和 Sequence 为 0 时由守卫中必然生效的时间锁决定。
type Spec struct {
	Outputs  []Output
	LockTime uint32
	Sequence uint32
	Label    string
}

// Branch 延续中的一个分支
type Branch struct {
	Name       string
	Guard      clause.Clause // nil 表示无守卫
	Conditions []Condition   // 条件编译约束，按 Merge 合并
	Templates  []Spec        // 备选模板，花费者任选其一；完成路径上只是建议
	Finish     bool          // 完成路径：只贡献守卫，不承诺任何模板

	// 以下只用于完成路径
	Params  []ParameterDef                               // 调用完成路径时接受的参数，nil 表示不接受参数
	Suggest func(ctx Context, args Args) ([]Spec, error) // 按参数生成建议模板，nil 时使用 Templates
}

// Condition 返回合并后的条件编译约束
func (b *Branch) Condition() Condition {
	c := Condition{Kind: NoConstraint}
	for _, next := range b.Conditions {
		c = Merge(c, next)
	}
	return c
}

// PayTo 支付到终端脚本的输出
func PayTo(amt amount.Amount, script []byte) Output {
	return Output{Amount: amt, Next: Pay{Script: script}}
}

// Then 进入嵌套合约的输出
func Then(amt amount.Amount, c Contract) Output {
	return Output{Amount: amt, Next: Nested{Contract: c}}
}
