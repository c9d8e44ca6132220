package covenant

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/qinglongcn/covenant/compiler"
)

// ChainParams 按名称返回网络参数，空串为主网
func ChainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", chaincfg.MainNetParams.Name:
		return &chaincfg.MainNetParams, nil
	case chaincfg.TestNet3Params.Name:
		return &chaincfg.TestNet3Params, nil
	case chaincfg.RegressionNetParams.Name:
		return &chaincfg.RegressionNetParams, nil
	case chaincfg.SigNetParams.Name:
		return &chaincfg.SigNetParams, nil
	case chaincfg.SimNetParams.Name:
		return &chaincfg.SimNetParams, nil
	}
	return nil, fmt.Errorf("未知网络: %s", network)
}

// Address 返回合约资金的 P2WSH 地址
func Address(obj *compiler.Object, params *chaincfg.Params) (string, error) {
	return obj.Policy.Address(params)
}

// PaymentScript 把地址解析为输出脚本，用于合约的终端支付参数
func PaymentScript(address string, params *chaincfg.Params) ([]byte, error) {
	// 将地址解析为btcutil.Address，这对于确保地址的准确性和确定地址类型很有用。
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, err
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("地址 %s 不属于网络 %s", address, params.Name)
	}
	return txscript.PayToAddrScript(addr)
}

// ValidateAddress 检查地址是否合法且为标准输出
func ValidateAddress(address string, params *chaincfg.Params) bool {
	script, err := PaymentScript(address, params)
	if err != nil {
		return false
	}
	return CheckStandardScript(script) == nil
}
