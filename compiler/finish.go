package compiler

import (
	"context"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/cache"
	"github.com/qinglongcn/covenant/clause"
	"github.com/qinglongcn/covenant/contract"
)

// Suggest 以 rawArgs 调用合约的完成路径 branch，构建它建议的模板。
// 参数先按分支的 Params 校验。建议模板中的嵌套合约在 sess 中编译并填入占位符，
// 模板本身不受资金输出的承诺约束，花费者满足守卫后可以自行选择交易。
func (c *Compiler) Suggest(ctx context.Context, sess *Session, k contract.Contract, funding amount.Amount, branch string, rawArgs []byte) (*Branch, error) {
	if err := sess.err(); err != nil {
		return nil, err
	}
	typeID := k.TypeID()
	key, err := cache.KeyFor(typeID, k.Args(), funding, c.fingerprint)
	if err != nil {
		return nil, err
	}

	cctx := contract.Context{Funding: funding}
	branches, err := k.Branches(cctx)
	if err != nil {
		return nil, err
	}
	var fin *contract.Branch
	for i := range branches {
		if branches[i].Name == branch && branches[i].Finish {
			fin = &branches[i]
			break
		}
	}
	if fin == nil {
		return nil, &BranchError{TypeID: typeID, Branch: branch, Reason: "no such finish branch"}
	}
	switch cond := fin.Condition(); cond.Kind {
	case contract.Fail:
		return nil, &BranchError{TypeID: typeID, Branch: branch, Reason: "branch failed", Reasons: cond.Reasons}
	case contract.Never, contract.Skippable:
		return nil, &BranchError{TypeID: typeID, Branch: branch, Reason: "branch is not compiled (" + cond.String() + ")"}
	}

	args, err := contract.ValidateArgs(typeID+"."+branch, fin.Params, rawArgs)
	if err != nil {
		return nil, err
	}
	specs := fin.Templates
	if fin.Suggest != nil {
		if specs, err = fin.Suggest(cctx, args); err != nil {
			return nil, &BranchError{TypeID: typeID, Branch: branch, Reason: err.Error()}
		}
	}

	jobs, err := c.collectJobs(typeID, 0, branch, specs)
	if err != nil {
		return nil, err
	}
	children, err := c.compileChildren(ctx, sess, jobs, []cache.Key{key})
	if err != nil {
		return nil, err
	}
	guard := fin.Guard
	if guard == nil {
		guard = clause.Trivial{}
	}
	cb, err := c.buildBranch(typeID, funding, 0, branch, guard, specs, jobs, children)
	if err != nil {
		return nil, err
	}
	cb.Finish = true
	cb.Params = fin.Params
	return cb, nil
}
