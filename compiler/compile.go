// 递归编译器：把合约图编译为交易模板图与资金花费条件。
//
// 每个合约依次经历 查找缓存 -> 求值延续 -> 编译子合约 -> 承诺 -> 组装 -> 写入缓存。
// 兄弟子合约并发编译，同键的并发请求由会话缓存合并为一次求值。

package compiler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/cache"
	"github.com/qinglongcn/covenant/clause"
	"github.com/qinglongcn/covenant/contract"
	"github.com/qinglongcn/covenant/policy"
	"github.com/qinglongcn/covenant/template"
)

// lockTimeThreshold 小于该值的 nLockTime 表示区块高度
const lockTimeThreshold = 500000000

// Compiler 合约编译器，可被多个会话并发使用
type Compiler struct {
	cfg         Config
	fingerprint []byte
}

// New 创建编译器，未设置的配置项取默认值
func New(cfg Config) (*Compiler, error) {
	def := DefaultConfig()
	if cfg.Limits == (policy.Limits{}) {
		cfg.Limits = def.Limits
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.Mode == policy.CommitEmulated && cfg.Deriver == nil {
		return nil, errors.New("emulated commitments require a key deriver")
	}
	return &Compiler{cfg: cfg, fingerprint: cfg.fingerprint()}, nil
}

// Config 返回生效的配置
func (c *Compiler) Config() Config {
	return c.cfg
}

// Compile 编译顶层合约，funding 为锁定到合约的金额
func (c *Compiler) Compile(ctx context.Context, sess *Session, k contract.Contract, funding amount.Amount) (*Object, error) {
	if k == nil {
		return nil, errors.New("nil contract")
	}
	if funding == 0 {
		return nil, &amount.Error{Op: "compile", Reason: "zero funding"}
	}
	if err := funding.Valid(); err != nil {
		return nil, err
	}
	return c.compile(ctx, sess, k, funding, nil)
}

// compile path 为祖先合约的键，不含当前合约
func (c *Compiler) compile(ctx context.Context, sess *Session, k contract.Contract, funding amount.Amount, path []cache.Key) (*Object, error) {
	if err := sess.err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	typeID := k.TypeID()
	key, err := cache.KeyFor(typeID, k.Args(), funding, c.fingerprint)
	if err != nil {
		return nil, &PathError{Path: path, TypeID: typeID, Err: err}
	}
	full := make([]cache.Key, len(path)+1)
	copy(full, path)
	full[len(path)] = key
	depth := len(path)

	for _, p := range path {
		if p == key {
			return nil, &PathError{Path: full, TypeID: typeID, Err: &RecursionLimitError{Limit: c.cfg.MaxDepth, Depth: depth, Cycle: true, Path: full}}
		}
	}
	if depth > c.cfg.MaxDepth {
		return nil, &PathError{Path: full, TypeID: typeID, Err: &RecursionLimitError{Limit: c.cfg.MaxDepth, Depth: depth, Path: full}}
	}
	if depth > 0 {
		release, cycle := sess.await(path[depth-1], key)
		if cycle {
			return nil, &PathError{Path: full, TypeID: typeID, Err: &RecursionLimitError{Limit: c.cfg.MaxDepth, Depth: depth, Cycle: true, Path: full}}
		}
		defer release()
	}

	obj, err := c.lookupOrEvaluate(ctx, sess, k, key, funding, full)
	if err != nil {
		var ce *cache.ConsistencyError
		if errors.As(err, &ce) {
			logrus.Errorf("[compile] 一致性错误:\t%v", err)
			sess.poison(err)
		}
		var pe *PathError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &PathError{Path: full, TypeID: typeID, Err: err}
	}
	return obj, nil
}

// lookupOrEvaluate 同键的并发调用共享一次求值。
// 求值由另一个调用者发起时，它的 ctx 被取消不影响本调用：本调用的 ctx 仍有效就重新求值。
func (c *Compiler) lookupOrEvaluate(ctx context.Context, sess *Session, k contract.Contract, key cache.Key, funding amount.Amount, full []cache.Key) (*Object, error) {
	for {
		obj, err := sess.cache.Do(key, func() (*Object, error) {
			return c.evaluate(ctx, sess, k, key, funding, full)
		})
		if err == nil || ctx.Err() != nil || !isCanceled(err) {
			return obj, err
		}
		logrus.Debugf("[compile] %s %s 的共享求值被取消，重新求值", k.TypeID(), key.Short())
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// childJob 一个嵌套合约输出
type childJob struct {
	branch, tmpl, output int
	contract             contract.Contract
	amount               amount.Amount
}

// evaluate 缓存未命中时编译一个合约
func (c *Compiler) evaluate(ctx context.Context, sess *Session, k contract.Contract, key cache.Key, funding amount.Amount, path []cache.Key) (*Object, error) {
	sess.evaluations.Add(1)
	typeID := k.TypeID()
	depth := len(path) - 1
	logrus.Debugf("[evaluate] %s %s depth %d funding %s", typeID, key.Short(), depth, funding)

	cctx := contract.Context{Funding: funding, Depth: depth}
	branches, err := k.Branches(cctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", typeID, err)
	}
	if c.cfg.CheckDeterminism {
		again, err := k.Branches(cctx)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", typeID, err)
		}
		if describe(branches) != describe(again) {
			return nil, &cache.ConsistencyError{Key: key, Reason: "continuation of " + typeID + " is not deterministic"}
		}
	}

	kept, err := selectBranches(typeID, branches)
	if err != nil {
		return nil, err
	}

	// 收集嵌套合约
	var jobs []childJob
	for bi, b := range kept {
		bj, err := c.collectJobs(typeID, bi, b.Name, b.Templates)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, bj...)
	}
	children, err := c.compileChildren(ctx, sess, jobs, path)
	if err != nil {
		return nil, err
	}

	obj, err := c.assemble(typeID, key, funding, kept, jobs, children)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("[evaluate] %s %s compiled: %d branches, digest %s", typeID, key.Short(), len(obj.Branches), obj.Digest)
	return obj, nil
}

// collectJobs 检查分支模板的输出，返回其中的嵌套合约
func (c *Compiler) collectJobs(typeID string, bi int, name string, specs []contract.Spec) ([]childJob, error) {
	var jobs []childJob
	for ti, spec := range specs {
		for oi, out := range spec.Outputs {
			switch next := out.Next.(type) {
			case contract.Nested:
				if next.Contract == nil {
					return nil, &BranchError{TypeID: typeID, Branch: name, Reason: fmt.Sprintf("template %d output %d: nil nested contract", ti, oi)}
				}
				if out.Amount == 0 {
					return nil, &amount.Error{Op: "compile", Reason: fmt.Sprintf("nested contract %s has zero funding", next.Contract.TypeID())}
				}
				jobs = append(jobs, childJob{branch: bi, tmpl: ti, output: oi, contract: next.Contract, amount: out.Amount})
			case contract.Pay:
				if c.cfg.CheckScript != nil {
					if err := c.cfg.CheckScript(next.Script); err != nil {
						return nil, &BranchError{TypeID: typeID, Branch: name, Reason: fmt.Sprintf("template %d output %d: %v", ti, oi, err)}
					}
				}
			default:
				return nil, &BranchError{TypeID: typeID, Branch: name, Reason: fmt.Sprintf("template %d output %d: missing next state", ti, oi)}
			}
		}
	}
	return jobs, nil
}

// compileChildren 兄弟合约并发编译。一个兄弟失败不取消其他兄弟：
// 子合约可能正被会话中的其他父合约共享等待。
func (c *Compiler) compileChildren(ctx context.Context, sess *Session, jobs []childJob, path []cache.Key) ([]*Object, error) {
	children := make([]*Object, len(jobs))
	var g errgroup.Group
	if c.cfg.Parallelism > 0 {
		g.SetLimit(c.cfg.Parallelism)
	}
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			obj, err := c.compile(ctx, sess, job.contract, job.amount, path)
			if err != nil {
				return err
			}
			children[i] = obj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return children, nil
}

// selectBranches 按条件编译约束剪除分支
func selectBranches(typeID string, branches []contract.Branch) ([]contract.Branch, error) {
	kept := make([]contract.Branch, 0, len(branches))
	for _, b := range branches {
		cond := b.Condition()
		switch cond.Kind {
		case contract.Fail:
			return nil, &BranchError{TypeID: typeID, Branch: b.Name, Reason: "branch failed", Reasons: cond.Reasons}
		case contract.Never, contract.Skippable:
			logrus.Debugf("[selectBranches] %s 跳过分支 %q (%s)", typeID, b.Name, cond)
			continue
		}
		// 完成路径的模板只是建议，可以为空
		if b.Finish {
			kept = append(kept, b)
			continue
		}
		if len(b.Templates) == 0 {
			if cond.Kind == contract.Nullable {
				continue
			}
			return nil, &BranchError{TypeID: typeID, Branch: b.Name, Reason: "branch produced no templates"}
		}
		kept = append(kept, b)
	}
	if len(kept) == 0 {
		return nil, &BranchError{TypeID: typeID, Reason: "contract has no spendable branches"}
	}
	return kept, nil
}

// assemble 构建模板、填充子合约承诺并编译资金花费条件。
// 完成路径只贡献守卫，它的建议模板不进入承诺。
func (c *Compiler) assemble(typeID string, key cache.Key, funding amount.Amount, kept []contract.Branch, jobs []childJob, children []*Object) (*Object, error) {
	obj := &Object{Key: key, TypeID: typeID, Funding: funding}
	seen := make(map[cache.Key]bool)
	guards := make([]clause.Clause, 0, len(kept))

	for bi, b := range kept {
		guard := b.Guard
		if guard == nil {
			guard = clause.Trivial{}
		}
		cb, err := c.buildBranch(typeID, funding, bi, b.Name, guard, b.Templates, jobs, children)
		if err != nil {
			return nil, err
		}
		cb.Finish = b.Finish
		cb.Params = b.Params
		for _, link := range cb.Links {
			if !seen[link.Child] {
				seen[link.Child] = true
				obj.Children = append(obj.Children, link.Child)
			}
		}
		obj.Branches = append(obj.Branches, *cb)

		if b.Finish {
			guards = append(guards, guard)
			continue
		}
		commits := make([]clause.Clause, len(cb.Hashes))
		for i, h := range cb.Hashes {
			commits[i] = clause.TxCommitment{Hash: h}
		}
		anyTemplate, err := clause.AnyOf(commits...)
		if err != nil {
			return nil, err
		}
		guards = append(guards, clause.AllOf(guard, anyTemplate))
	}

	top, err := clause.AnyOf(guards...)
	if err != nil {
		return nil, err
	}
	obj.Policy, err = policy.Compile(top, policy.Options{Limits: c.cfg.Limits, Mode: c.cfg.Mode, Deriver: c.cfg.Deriver})
	if err != nil {
		return nil, err
	}
	obj.Digest, err = obj.digest()
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// buildBranch 构建一个分支的全部模板，并用第 bi 个分支的子合约填充占位符
func (c *Compiler) buildBranch(typeID string, funding amount.Amount, bi int, name string, guard clause.Clause, specs []contract.Spec, jobs []childJob, children []*Object) (*Branch, error) {
	cb := &Branch{Name: name, Guard: guard}
	if len(specs) == 0 {
		return cb, nil
	}
	locks, err := policy.RequiredLocks(guard)
	if err != nil {
		return nil, err
	}
	for ti, spec := range specs {
		tmpl, err := c.buildTemplate(typeID, name, funding, spec, locks)
		if err != nil {
			return nil, err
		}
		for i, job := range jobs {
			if job.branch != bi || job.tmpl != ti {
				continue
			}
			child := children[i]
			if err := tmpl.Resolve(job.output, child.Policy.PkScript); err != nil {
				return nil, err
			}
			cb.Links = append(cb.Links, Link{Template: ti, Output: job.output, Child: child.Key})
		}
		h, err := tmpl.Hash()
		if err != nil {
			return nil, err
		}
		cb.Templates = append(cb.Templates, tmpl)
		cb.Hashes = append(cb.Hashes, h)
	}
	return cb, nil
}

// buildTemplate 未指定的 nLockTime / nSequence 取守卫要求的值
func (c *Compiler) buildTemplate(typeID, branch string, funding amount.Amount, spec contract.Spec, locks policy.Locks) (*template.Template, error) {
	lockTime, sequence := spec.LockTime, spec.Sequence
	if lockTime == 0 && locks.HasAbsolute {
		lockTime = locks.LockTime
	}
	if sequence == 0 && locks.HasRelative {
		sequence = locks.Sequence
	}
	if locks.HasAbsolute && !lockTimeSatisfies(lockTime, locks.LockTime) {
		return nil, &BranchError{TypeID: typeID, Branch: branch, Reason: fmt.Sprintf("template locktime %d does not satisfy guard locktime %d", lockTime, locks.LockTime)}
	}
	if locks.HasRelative && !sequenceSatisfies(sequence, locks.Sequence) {
		return nil, &BranchError{TypeID: typeID, Branch: branch, Reason: fmt.Sprintf("template sequence %#x does not satisfy guard sequence %#x", sequence, locks.Sequence)}
	}

	reqs := make([]template.Request, len(spec.Outputs))
	for i, out := range spec.Outputs {
		r := template.Request{Amount: out.Amount, Label: out.Label}
		switch next := out.Next.(type) {
		case contract.Pay:
			r.Script = next.Script
		case contract.Nested:
			r.Pending = true
		}
		reqs[i] = r
	}
	return template.Build(funding, reqs, template.BuildOptions{
		MinFee:   c.cfg.MinFee,
		MaxFee:   c.cfg.MaxFee,
		LockTime: lockTime,
		Sequence: sequence,
		Label:    spec.Label,
	})
}

func lockTimeSatisfies(have, want uint32) bool {
	if (have < lockTimeThreshold) != (want < lockTimeThreshold) {
		return false
	}
	return have >= want
}

func sequenceSatisfies(have, want uint32) bool {
	if have&wire.SequenceLockTimeDisabled != 0 {
		return false
	}
	if have&wire.SequenceLockTimeIsSeconds != want&wire.SequenceLockTimeIsSeconds {
		return false
	}
	return have&wire.SequenceLockTimeMask >= want&wire.SequenceLockTimeMask
}

// describe 延续结果的结构化描述，用于确定性检查
func describe(branches []contract.Branch) string {
	var sb strings.Builder
	for _, b := range branches {
		fmt.Fprintf(&sb, "branch %q finish=%t cond=%s guard=%v\n", b.Name, b.Finish, b.Condition(), b.Guard)
		for _, p := range b.Params {
			fmt.Fprintf(&sb, " param %s %s %t\n", p.Name, p.Type, p.Required)
		}
		for _, spec := range b.Templates {
			fmt.Fprintf(&sb, " tmpl %q lock=%d seq=%d\n", spec.Label, spec.LockTime, spec.Sequence)
			for _, out := range spec.Outputs {
				switch next := out.Next.(type) {
				case contract.Pay:
					fmt.Fprintf(&sb, "  pay %d %s\n", out.Amount, hex.EncodeToString(next.Script))
				case contract.Nested:
					if next.Contract == nil {
						fmt.Fprintf(&sb, "  then %d nil\n", out.Amount)
						continue
					}
					args, _ := json.Marshal(next.Contract.Args())
					fmt.Fprintf(&sb, "  then %d %s %s\n", out.Amount, next.Contract.TypeID(), args)
				default:
					fmt.Fprintf(&sb, "  none %d\n", out.Amount)
				}
			}
		}
	}
	return sb.String()
}
