// 子句代数：由时间锁、签名、门限签名和模板承诺组成的花费条件表达式。
//
// Clause 是一个封闭的和类型，只能由本包内的变体实现。子句树自底向上构建，
// 构建后不可修改，因此天然有限且无环。

package clause

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// ErrThreshold 门限签名的 k 为 0 或大于公钥数量
	ErrThreshold = errors.New("impossible threshold")
	// ErrEmptyOr Or 至少需要一个分支
	ErrEmptyOr = errors.New("or requires at least one branch")
	// ErrWeight Or 分支权重必须为正数
	ErrWeight = errors.New("or branch weight must be positive")
	// ErrNilClause 子句为空
	ErrNilClause = errors.New("nil clause")
)

// Clause 花费条件表达式
type Clause interface {
	fmt.Stringer
	isClause()
}

// Trivial 无条件满足，用于没有任何守卫的延续分支
type Trivial struct{}

// Before 相对时间锁（从资金输出确认开始计算），对应 miniscript 的 older
type Before struct {
	Lock LockTime
}

// After 绝对时间锁，对应 miniscript 的 after
type After struct {
	Lock LockTime
}

// Signed 需要指定公钥的签名
type Signed struct {
	Key KeyID
}

// SignedBy k-of-n 门限签名
type SignedBy struct {
	Threshold int
	Keys      []KeyID
}

// And 两个子句同时满足
type And struct {
	Left  Clause
	Right Clause
}

// Weighted 带权重的 Or 分支。权重只用于手续费估算，不影响可满足性。
type Weighted struct {
	Weight uint32
	Clause Clause
}

// Or 任一分支满足即可
type Or struct {
	Branches []Weighted
}

// TxCommitment 要求花费交易的模板哈希等于 Hash（CheckTemplateVerify）
type TxCommitment struct {
	Hash chainhash.Hash
}

func (Trivial) isClause()      {}
func (Before) isClause()       {}
func (After) isClause()        {}
func (Signed) isClause()       {}
func (SignedBy) isClause()     {}
func (And) isClause()          {}
func (Or) isClause()           {}
func (TxCommitment) isClause() {}

func (Trivial) String() string    { return "true" }
func (c Before) String() string   { return fmt.Sprintf("older(%s)", c.Lock) }
func (c After) String() string    { return fmt.Sprintf("after(%s)", c.Lock) }
func (c Signed) String() string   { return fmt.Sprintf("pk(%s)", c.Key) }
func (c And) String() string      { return fmt.Sprintf("and(%s,%s)", c.Left, c.Right) }
func (c TxCommitment) String() string {
	return fmt.Sprintf("txtmpl(%x)", c.Hash[:])
}

func (c SignedBy) String() string {
	parts := make([]string, 0, len(c.Keys)+1)
	parts = append(parts, fmt.Sprint(c.Threshold))
	for _, k := range c.Keys {
		parts = append(parts, string(k))
	}
	return "thresh(" + strings.Join(parts, ",") + ")"
}

func (c Or) String() string {
	parts := make([]string, 0, len(c.Branches))
	for _, b := range c.Branches {
		parts = append(parts, fmt.Sprintf("%d@%s", b.Weight, b.Clause))
	}
	return "or(" + strings.Join(parts, ",") + ")"
}

// NewSignedBy 创建 k-of-n 门限签名子句，k 为 0 或 k>n 时失败
func NewSignedBy(k int, keys ...KeyID) (SignedBy, error) {
	if k <= 0 || k > len(keys) {
		return SignedBy{}, fmt.Errorf("%w: %d of %d", ErrThreshold, k, len(keys))
	}
	cp := make([]KeyID, len(keys))
	copy(cp, keys)
	return SignedBy{Threshold: k, Keys: cp}, nil
}

// NewOr 创建带权重的 Or 子句
func NewOr(branches ...Weighted) (Or, error) {
	if len(branches) == 0 {
		return Or{}, ErrEmptyOr
	}
	for i, b := range branches {
		if b.Clause == nil {
			return Or{}, fmt.Errorf("branch %d: %w", i, ErrNilClause)
		}
		if b.Weight == 0 {
			return Or{}, fmt.Errorf("branch %d: %w", i, ErrWeight)
		}
	}
	cp := make([]Weighted, len(branches))
	copy(cp, branches)
	return Or{Branches: cp}, nil
}

// AnyOf 创建等权重的 Or；只有一个子句时直接返回该子句
func AnyOf(clauses ...Clause) (Clause, error) {
	if len(clauses) == 1 {
		if clauses[0] == nil {
			return nil, ErrNilClause
		}
		return clauses[0], nil
	}
	branches := make([]Weighted, len(clauses))
	for i, c := range clauses {
		branches[i] = Weighted{Weight: 1, Clause: c}
	}
	return NewOr(branches...)
}

// AllOf 将多个子句折叠为右结合的 And 链，Trivial 子句会被省略
func AllOf(clauses ...Clause) Clause {
	var out Clause
	for i := len(clauses) - 1; i >= 0; i-- {
		c := clauses[i]
		if c == nil {
			continue
		}
		if _, ok := c.(Trivial); ok {
			continue
		}
		if out == nil {
			out = c
			continue
		}
		out = And{Left: c, Right: out}
	}
	if out == nil {
		return Trivial{}
	}
	return out
}

// Walk 先序遍历子句树，fn 返回 false 时不再深入该节点的子节点
func Walk(c Clause, fn func(Clause) bool) {
	if c == nil || !fn(c) {
		return
	}
	switch v := c.(type) {
	case And:
		Walk(v.Left, fn)
		Walk(v.Right, fn)
	case Or:
		for _, b := range v.Branches {
			Walk(b.Clause, fn)
		}
	}
}

// Keys 返回子句中出现的全部公钥，按首次出现顺序去重
func Keys(c Clause) []KeyID {
	var keys []KeyID
	seen := make(map[KeyID]struct{})
	add := func(k KeyID) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	Walk(c, func(n Clause) bool {
		switch v := n.(type) {
		case Signed:
			add(v.Key)
		case SignedBy:
			for _, k := range v.Keys {
				add(k)
			}
		}
		return true
	})
	return keys
}
