// 模拟器接口：在没有原生 CheckTemplateVerify 的网络上，由外部签名方代替契约执行。
//
// 编译器只把模板哈希承诺进父脚本，从不检查签名；签名由这里的实现按需提供。
// 调用方不会重试失败的请求，重试策略属于模拟器自身。

package emulator

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/qinglongcn/covenant/clause"
)

// Signature DER 编码的 ECDSA 签名，不含 sighash 类型字节
type Signature []byte

// Emulator 模拟器
type Emulator interface {
	// RequestCommitment 对模板哈希出具承诺签名
	RequestCommitment(ctx context.Context, hash chainhash.Hash) (Signature, error)
	// RequestSignature 用指定公钥对应的私钥签名 sighash
	RequestSignature(ctx context.Context, sighash []byte, key clause.KeyID) (Signature, error)
}

// Error 模拟器拒绝或无法完成请求
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("emulator: %s: %v", e.Reason, e.Err)
	}
	return "emulator: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// checkContext 请求开始前检查调用方是否已放弃
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &Error{Reason: "request abandoned", Err: err}
	}
	return nil
}
