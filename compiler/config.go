package compiler

import (
	"crypto/sha256"
	"encoding/binary"
	"runtime"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/policy"
)

const (
	// DefaultMaxDepth 合约图的最大嵌套深度
	DefaultMaxDepth = 64
	// DefaultMinFee 每个模板的最低手续费（聪）
	DefaultMinFee amount.Amount = 1000
)

// Config 编译配置
type Config struct {
	MinFee           amount.Amount
	MaxFee           amount.Amount // 每个模板的最高手续费，0 表示不限
	Limits           policy.Limits
	Mode             policy.CommitmentMode
	Deriver          policy.KeyDeriver // Mode 为 CommitEmulated 时必需
	MaxDepth         int
	Parallelism      int  // 兄弟合约并发编译数，<=0 表示不限
	CheckDeterminism bool // 每个延续求值两次并比较
	// CheckScript 校验终端输出脚本，nil 表示不校验
	CheckScript func(script []byte) error
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MinFee:      DefaultMinFee,
		Limits:      policy.DefaultLimits(),
		Mode:        policy.CommitCTV,
		MaxDepth:    DefaultMaxDepth,
		Parallelism: runtime.NumCPU(),
	}
}

// fingerprinter 派生器提供的身份摘要，使不同模拟器编译出的结果不共享缓存键
type fingerprinter interface {
	Fingerprint() []byte
}

// fingerprint 影响编译输出的配置项摘要，参与缓存键计算
func (c Config) fingerprint() []byte {
	h := sha256.New()
	var scratch [8]byte
	put := func(v uint64) {
		binary.BigEndian.PutUint64(scratch[:], v)
		h.Write(scratch[:])
	}
	put(uint64(c.MinFee))
	put(uint64(c.MaxFee))
	put(uint64(c.Limits.MaxScriptSize))
	put(uint64(c.Limits.MaxSatisfactionSize))
	put(uint64(c.Limits.MaxWitnessItems))
	put(uint64(c.Mode))
	if c.Mode == policy.CommitEmulated {
		if f, ok := c.Deriver.(fingerprinter); ok {
			h.Write(f.Fingerprint())
		}
	}
	return h.Sum(nil)
}
