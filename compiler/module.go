package compiler

import (
	"context"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/contract"
)

// CompileModule 从注册表解析模块，按模块模式校验参数后构造并编译合约。
// 参数不合法时返回 *contract.SchemaError，不会构造合约。
func (c *Compiler) CompileModule(ctx context.Context, sess *Session, reg *contract.Registry, name, version string, rawArgs []byte, funding amount.Amount) (*Object, error) {
	m, err := reg.Resolve(name, version)
	if err != nil {
		return nil, err
	}
	k, err := m.Construct(rawArgs)
	if err != nil {
		return nil, err
	}
	return c.Compile(ctx, sess, k, funding)
}
