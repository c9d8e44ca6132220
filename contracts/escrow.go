package contracts

import (
	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/clause"
	"github.com/qinglongcn/covenant/contract"
)

// Escrow 三方托管：买方、卖方、仲裁人任意两人可以直接花费；
// 超过 Timeout 区块高度后资金退回买方。
type Escrow struct {
	Buyer   clause.KeyID  `json:"buyer"`
	Seller  clause.KeyID  `json:"seller"`
	Arbiter clause.KeyID  `json:"arbiter"`
	Timeout uint32        `json:"timeout"`
	Fee     amount.Amount `json:"fee"`
}

func (e Escrow) TypeID() string { return "escrow" }
func (e Escrow) Args() any      { return e }

func (e Escrow) Branches(ctx contract.Context) ([]contract.Branch, error) {
	settle, err := clause.NewSignedBy(2, e.Buyer, e.Seller, e.Arbiter)
	if err != nil {
		return nil, err
	}
	amt, err := ctx.Funding.Sub(feeOrDefault(e.Fee))
	if err != nil {
		return nil, err
	}
	refund, err := PayToKey(e.Buyer)
	if err != nil {
		return nil, err
	}
	return []contract.Branch{
		{
			Name:   "settle",
			Guard:  settle,
			Finish: true,
			Params: []contract.ParameterDef{
				{Name: "payee", Type: contract.TypeScript, Required: true, Description: "output script agreed by the signers"},
			},
			// 签名方商定收款脚本后的建议交易
			Suggest: func(_ contract.Context, args contract.Args) ([]contract.Spec, error) {
				payee, err := args.Bytes("payee")
				if err != nil {
					return nil, err
				}
				return []contract.Spec{{Label: "settle", Outputs: []contract.Output{contract.PayTo(amt, payee)}}}, nil
			},
		},
		{
			Name:      "refund",
			Guard:     clause.After{Lock: clause.Height(e.Timeout)},
			Templates: []contract.Spec{{Label: "refund", Outputs: []contract.Output{contract.PayTo(amt, refund)}}},
		},
	}, nil
}
