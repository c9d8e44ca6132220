package template

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/qinglongcn/covenant/amount"
)

// Request 一个期望的输出
type Request struct {
	Amount  amount.Amount
	Script  []byte // 终端脚本；Pending 为 true 时为空
	Pending bool
	Label   string
}

// BuildOptions 构建选项
type BuildOptions struct {
	MinFee      amount.Amount
	MaxFee      amount.Amount // 0 表示不限
	Version     int32         // 0 表示 DefaultVersion
	LockTime    uint32        // nLockTime
	Sequence    uint32        // 0 表示 wire.MaxTxInSequenceNum
	ParentIndex uint32
	Label       string
}

// Build 按给定顺序分配输出并构造一个模板。
// 手续费 = 资金 - 输出之和；输出超过资金或手续费超出上下限时返回 *amount.Error。
func Build(funding amount.Amount, reqs []Request, opts BuildOptions) (*Template, error) {
	if len(reqs) == 0 {
		return nil, ErrNoOutputs
	}
	if err := funding.Valid(); err != nil {
		return nil, err
	}

	outs := make([]Output, len(reqs))
	amounts := make([]amount.Amount, len(reqs))
	for i, r := range reqs {
		if r.Amount == 0 {
			return nil, &amount.Error{Op: "build", Reason: fmt.Sprintf("output %d has zero value", i)}
		}
		if !r.Pending && len(r.Script) == 0 {
			return nil, fmt.Errorf("output %d: missing script", i)
		}
		outs[i] = Output{
			Amount:  r.Amount,
			Script:  append([]byte(nil), r.Script...),
			Pending: r.Pending,
			Label:   r.Label,
		}
		amounts[i] = r.Amount
	}

	spent, err := amount.Sum(amounts...)
	if err != nil {
		return nil, err
	}
	if spent > funding {
		return nil, &amount.Error{Op: "build", Reason: "outputs exceed funding", Have: funding, Want: spent}
	}
	fee := funding - spent
	if fee < opts.MinFee {
		return nil, &amount.Error{Op: "build", Reason: "fee below minimum", Have: fee, Want: opts.MinFee}
	}
	if opts.MaxFee != 0 && fee > opts.MaxFee {
		return nil, &amount.Error{Op: "build", Reason: "fee above maximum", Have: fee, Want: opts.MaxFee}
	}

	version := opts.Version
	if version == 0 {
		version = DefaultVersion
	}
	sequence := opts.Sequence
	if sequence == 0 {
		sequence = wire.MaxTxInSequenceNum
		// nSequence 为最终值时 nLockTime 不生效
		if opts.LockTime != 0 {
			sequence = wire.MaxTxInSequenceNum - 1
		}
	}

	t := &Template{
		Version:  version,
		LockTime: opts.LockTime,
		Inputs:   []Input{{ParentIndex: opts.ParentIndex, Sequence: sequence}},
		Outputs:  outs,
		Funding:  funding,
		Fee:      fee,
		Label:    opts.Label,
	}
	if err := t.Check(); err != nil {
		return nil, err
	}
	return t, nil
}
