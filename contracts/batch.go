package contracts

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/contract"
)

// Batch 拥塞控制支付树。一笔资金先承诺整棵树，收款方之后按需展开：
// 支付数不超过 Radix 时直接支付，否则分成 Radix 组，每组是一个子 Batch。
// 相同的子树（相同支付列表和金额）在编译时共享。
type Batch struct {
	Payments []contract.Payment `json:"payments"`
	Radix    int                `json:"radix"`
	Fee      amount.Amount      `json:"fee"`
}

// DefaultRadix 默认分支数
const DefaultRadix = 4

func (b Batch) TypeID() string { return "batch" }

// Args 脚本按小写十六进制参与缓存键
func (b Batch) Args() any {
	pays := make([]contract.Payment, len(b.Payments))
	for i, p := range b.Payments {
		pays[i] = contract.Payment{Amount: p.Amount, Script: strings.ToLower(p.Script)}
	}
	return Batch{Payments: pays, Radix: b.Radix, Fee: b.Fee}
}

func (b Batch) radix() int {
	if b.Radix < 2 {
		return DefaultRadix
	}
	return b.Radix
}

// groups 把支付列表按顺序尽量均匀地分成 radix 组
func (b Batch) groups() [][]contract.Payment {
	r := b.radix()
	n := len(b.Payments)
	out := make([][]contract.Payment, 0, r)
	start := 0
	for i := 0; i < r; i++ {
		size := n / r
		if i < n%r {
			size++
		}
		out = append(out, b.Payments[start:start+size])
		start += size
	}
	return out
}

// Required 展开整棵子树所需的资金：所有支付加上每笔交易的手续费
func (b Batch) Required() (amount.Amount, error) {
	fee := feeOrDefault(b.Fee)
	if len(b.Payments) <= b.radix() {
		total := fee
		for _, p := range b.Payments {
			next, err := total.Add(p.Amount)
			if err != nil {
				return 0, err
			}
			total = next
		}
		return total, nil
	}
	total := fee
	for _, g := range b.groups() {
		need, err := b.child(g).Required()
		if err != nil {
			return 0, err
		}
		if total, err = total.Add(need); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (b Batch) child(g []contract.Payment) Batch {
	return Batch{Payments: g, Radix: b.Radix, Fee: b.Fee}
}

func (b Batch) Branches(ctx contract.Context) ([]contract.Branch, error) {
	if len(b.Payments) == 0 {
		return nil, fmt.Errorf("batch has no payments")
	}
	need, err := b.Required()
	if err != nil {
		return nil, err
	}
	if ctx.Funding < need {
		return nil, &amount.Error{Op: "batch", Reason: "insufficient funding for payment tree", Have: ctx.Funding, Want: need}
	}

	var outs []contract.Output
	if len(b.Payments) <= b.radix() {
		for i, p := range b.Payments {
			script, err := hex.DecodeString(p.Script)
			if err != nil {
				return nil, fmt.Errorf("payment %d: %w", i, err)
			}
			outs = append(outs, contract.Output{Amount: p.Amount, Next: contract.Pay{Script: script}, Label: fmt.Sprintf("pay %d", i)})
		}
	} else {
		for i, g := range b.groups() {
			child := b.child(g)
			amt, err := child.Required()
			if err != nil {
				return nil, err
			}
			outs = append(outs, contract.Output{Amount: amt, Next: contract.Nested{Contract: child}, Label: fmt.Sprintf("group %d", i)})
		}
	}
	return []contract.Branch{{Name: "expand", Templates: []contract.Spec{{Label: "expand", Outputs: outs}}}}, nil
}
