// 示例合约：金库、批量支付树和托管，以模块形式注册。

package contracts

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/clause"
)

// DefaultFee 每个模板预留的手续费
const DefaultFee amount.Amount = 1000

// PayToKey 公钥的 P2WPKH 输出脚本
func PayToKey(key clause.KeyID) ([]byte, error) {
	raw, err := key.Bytes()
	if err != nil {
		return nil, err
	}
	return txscript.NewScriptBuilder().AddOp(txscript.OP_0).AddData(btcutil.Hash160(raw)).Script()
}

func feeOrDefault(fee amount.Amount) amount.Amount {
	if fee == 0 {
		return DefaultFee
	}
	return fee
}
