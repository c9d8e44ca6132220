package contracts

import (
	"fmt"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/clause"
	"github.com/qinglongcn/covenant/contract"
)

// Vault 冷热金库。资金只能先进入解锁阶段（Unvault），
// 解锁后热钥匙需等待 Delay 个区块才能取款，期间冷钥匙随时可以收回。
type Vault struct {
	Hot   clause.KeyID  `json:"hot"`
	Cold  clause.KeyID  `json:"cold"`
	Delay uint32        `json:"delay"`
	Fee   amount.Amount `json:"fee"`
}

func (v Vault) TypeID() string { return "vault" }
func (v Vault) Args() any      { return v }

func (v Vault) Branches(ctx contract.Context) ([]contract.Branch, error) {
	fee := feeOrDefault(v.Fee)
	amt, err := ctx.Funding.Sub(fee)
	if err != nil {
		return nil, err
	}
	cold, err := PayToKey(v.Cold)
	if err != nil {
		return nil, fmt.Errorf("cold key: %w", err)
	}
	return []contract.Branch{
		{
			Name:      "unvault",
			Guard:     clause.Signed{Key: v.Hot},
			Templates: []contract.Spec{{Label: "unvault", Outputs: []contract.Output{contract.Then(amt, Unvault(v))}}},
		},
		{
			Name:      "sweep",
			Guard:     clause.Signed{Key: v.Cold},
			Templates: []contract.Spec{{Label: "sweep", Outputs: []contract.Output{contract.PayTo(amt, cold)}}},
		},
	}, nil
}

// Unvault 金库的解锁阶段
type Unvault Vault

func (u Unvault) TypeID() string { return "vault.unvault" }
func (u Unvault) Args() any      { return u }

func (u Unvault) Branches(ctx contract.Context) ([]contract.Branch, error) {
	fee := feeOrDefault(u.Fee)
	amt, err := ctx.Funding.Sub(fee)
	if err != nil {
		return nil, err
	}
	hot, err := PayToKey(u.Hot)
	if err != nil {
		return nil, fmt.Errorf("hot key: %w", err)
	}
	cold, err := PayToKey(u.Cold)
	if err != nil {
		return nil, fmt.Errorf("cold key: %w", err)
	}
	return []contract.Branch{
		{
			Name:      "withdraw",
			Guard:     clause.AllOf(clause.Signed{Key: u.Hot}, clause.Before{Lock: clause.Height(u.Delay)}),
			Templates: []contract.Spec{{Label: "withdraw", Outputs: []contract.Output{contract.PayTo(amt, hot)}}},
		},
		{
			Name:      "recover",
			Templates: []contract.Spec{{Label: "recover", Outputs: []contract.Output{contract.PayTo(amt, cold)}}},
		},
	}, nil
}
