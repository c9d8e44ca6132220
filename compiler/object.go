package compiler

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/cache"
	"github.com/qinglongcn/covenant/clause"
	"github.com/qinglongcn/covenant/contract"
	"github.com/qinglongcn/covenant/policy"
	"github.com/qinglongcn/covenant/template"
)

// Link 模板输出到嵌套合约的引用
type Link struct {
	Template int // 分支内模板下标
	Output   int // 模板内输出下标
	Child    cache.Key
}

// Branch 编译后的分支
type Branch struct {
	Name      string
	Guard     clause.Clause
	Finish    bool                    // 完成路径的模板只是建议，不进入资金花费条件
	Params    []contract.ParameterDef // 完成路径的参数定义
	Templates []*template.Template
	Hashes    []chainhash.Hash // 与 Templates 一一对应的 BIP-119 哈希
	Links     []Link
}

// Object 编译后的合约。嵌套合约按缓存键引用，实体保存在会话中。
type Object struct {
	Key      cache.Key
	TypeID   string
	Funding  amount.Amount
	Branches []Branch
	Policy   *policy.Policy
	Children []cache.Key // 去重后的直接子合约，按首次出现顺序
	Digest   chainhash.Hash
}

var _ cache.Value = (*Object)(nil)

// Fingerprint 实现 cache.Value
func (o *Object) Fingerprint() chainhash.Hash {
	return o.Digest
}

// Commitments 实现 cache.Value：每个模板的哈希和以空父交易序列化的字节
func (o *Object) Commitments() ([]cache.Commitment, error) {
	var out []cache.Commitment
	for _, b := range o.Branches {
		for i, t := range b.Templates {
			raw, err := t.Serialize(chainhash.Hash{})
			if err != nil {
				return nil, fmt.Errorf("branch %s template %d: %w", b.Name, i, err)
			}
			out = append(out, cache.Commitment{Hash: b.Hashes[i], Template: raw})
		}
	}
	return out, nil
}

// Templates 按分支顺序返回全部模板
func (o *Object) Templates() []*template.Template {
	var out []*template.Template
	for _, b := range o.Branches {
		out = append(out, b.Templates...)
	}
	return out
}

// digest 以见证脚本和所有模板哈希为叶子计算 Merkle 根
func (o *Object) digest() (chainhash.Hash, error) {
	leaves := [][]byte{o.Policy.WitnessScript}
	for _, b := range o.Branches {
		for _, h := range b.Hashes {
			h := h
			leaves = append(leaves, h[:])
		}
	}
	return merkleRoot(leaves)
}
