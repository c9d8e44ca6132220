package contracts

import (
	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/clause"
	"github.com/qinglongcn/covenant/contract"
)

func uint64Ptr(v uint64) *uint64 { return &v }

var feeParam = contract.ParameterDef{
	Name:        "fee",
	Type:        contract.TypeAmount,
	Description: "fee reserved for each transaction",
	Min:         uint64Ptr(1),
	Max:         uint64Ptr(uint64(amount.MaxAmount)),
}

func optionalFee(args contract.Args) (amount.Amount, error) {
	if !args.Has("fee") {
		return 0, nil
	}
	return args.Amount("fee")
}

// VaultModule 金库模块
var VaultModule = contract.Module{
	Name:        "vault",
	Version:     "1.0.0",
	Description: "hot/cold vault with a relative withdrawal delay",
	Params: []contract.ParameterDef{
		{Name: "hot", Type: contract.TypeKey, Required: true, Description: "key allowed to withdraw after the delay"},
		{Name: "cold", Type: contract.TypeKey, Required: true, Description: "recovery key"},
		{Name: "delay", Type: contract.TypeUint64, Required: true, Description: "withdrawal delay in blocks", Min: uint64Ptr(1), Max: uint64Ptr(0xffff)},
		feeParam,
	},
	New: func(args contract.Args) (contract.Contract, error) {
		hot, err := args.Key("hot")
		if err != nil {
			return nil, err
		}
		cold, err := args.Key("cold")
		if err != nil {
			return nil, err
		}
		delay, err := args.Uint64("delay")
		if err != nil {
			return nil, err
		}
		fee, err := optionalFee(args)
		if err != nil {
			return nil, err
		}
		return Vault{Hot: hot, Cold: cold, Delay: uint32(delay), Fee: fee}, nil
	},
}

// BatchModule 批量支付树模块
var BatchModule = contract.Module{
	Name:        "batch",
	Version:     "1.0.0",
	Description: "congestion-controlled payment tree",
	Params: []contract.ParameterDef{
		{Name: "payments", Type: contract.TypePayments, Required: true, Description: "ordered list of payments"},
		{Name: "radix", Type: contract.TypeUint64, Description: "fan-out of each tree node", Min: uint64Ptr(2), Max: uint64Ptr(16)},
		feeParam,
	},
	New: func(args contract.Args) (contract.Contract, error) {
		payments, err := args.Payments("payments")
		if err != nil {
			return nil, err
		}
		radix := uint64(DefaultRadix)
		if args.Has("radix") {
			if radix, err = args.Uint64("radix"); err != nil {
				return nil, err
			}
		}
		fee, err := optionalFee(args)
		if err != nil {
			return nil, err
		}
		return Batch{Payments: payments, Radix: int(radix), Fee: fee}, nil
	},
}

// EscrowModule 托管模块
var EscrowModule = contract.Module{
	Name:        "escrow",
	Version:     "1.0.0",
	Description: "2-of-3 escrow with a timeout refund",
	Params: []contract.ParameterDef{
		{Name: "buyer", Type: contract.TypeKey, Required: true},
		{Name: "seller", Type: contract.TypeKey, Required: true},
		{Name: "arbiter", Type: contract.TypeKey, Required: true},
		{Name: "timeout", Type: contract.TypeUint64, Required: true, Description: "refund height", Min: uint64Ptr(1), Max: uint64Ptr(499999999)},
		feeParam,
	},
	New: func(args contract.Args) (contract.Contract, error) {
		var keys [3]clause.KeyID
		for i, name := range []string{"buyer", "seller", "arbiter"} {
			k, err := args.Key(name)
			if err != nil {
				return nil, err
			}
			keys[i] = k
		}
		timeout, err := args.Uint64("timeout")
		if err != nil {
			return nil, err
		}
		fee, err := optionalFee(args)
		if err != nil {
			return nil, err
		}
		return Escrow{Buyer: keys[0], Seller: keys[1], Arbiter: keys[2], Timeout: uint32(timeout), Fee: fee}, nil
	},
}

// Register 把全部示例模块注册到 reg
func Register(reg *contract.Registry) error {
	for _, m := range []contract.Module{VaultModule, BatchModule, EscrowModule} {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	return nil
}
