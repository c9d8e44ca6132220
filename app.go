package covenant

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.uber.org/fx"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/compiler"
	"github.com/qinglongcn/covenant/contract"
	"github.com/qinglongcn/covenant/contracts"
	"github.com/qinglongcn/covenant/emulator"
	"github.com/qinglongcn/covenant/policy"
)

// ErrNoEmulator 实例未配置模拟器
var ErrNoEmulator = errors.New("emulator not configured")

// CC 提供了编译、归档、导出合约所需的各种函数
type CC struct {
	ctx      context.Context    // 全局上下文
	opt      *Options           // 选项配置
	app      *fx.App            // 依赖图
	params   *chaincfg.Params   // 地址网络
	archive  *Archive           // 编译归档
	db       *SqliteDB          // 编译索引
	store    *FileStore         // 模板导出
	emu      *emulator.HD       // 模拟器，CTV 模式下为 nil
	compiler *compiler.Compiler // 编译器
	registry *contract.Registry // 合约模块注册表
}

// Graph 一次顶层编译的结果。Session 只属于这一次编译，缓存着合约图中的全部合约。
type Graph struct {
	Root    *compiler.Object
	Session *compiler.Session
}

// Open 返回一个新的编译实例
func Open(opt *Options) (*CC, error) {
	// 1. 检查并设置选项
	if err := opt.CheckAndSetOptions(); err != nil {
		return nil, err
	}
	params, err := opt.chainParams()
	if err != nil {
		return nil, err
	}
	// 2. 本地文件夹
	if err := initDirectories(opt); err != nil {
		return nil, err
	}
	// 3. 日志
	logDir := ""
	if opt.LogToFile {
		logDir = opt.logsPath()
	}
	if err := SetLog(logDir, opt.InstanceId, opt.LogLevel); err != nil {
		return nil, err
	}

	cc := &CC{
		ctx:    context.Background(),
		opt:    opt,
		params: params,
	}

	// fx 配置项
	opts := []fx.Option{
		fx.NopLogger,
		cc.globalInit(),
		fx.Provide(
			NewArchiveService,   // 编译归档
			NewIndexService,     // 编译索引
			NewFileStoreService, // 模板导出
			NewEmulatorService,  // 模拟器
			NewCompilerService,  // 编译器
			NewRegistryService,  // 合约模块
		),
	}
	opts = append(opts, fx.Populate(
		&cc.archive,
		&cc.db,
		&cc.store,
		&cc.emu,
		&cc.compiler,
		&cc.registry,
	))
	cc.app = fx.New(opts...)
	if err := cc.app.Err(); err != nil {
		return nil, err
	}

	if err := cc.app.Start(cc.ctx); err != nil {
		return nil, err
	}
	opt.IsOpen = true // 实例已打开

	logrus.Infof("[Open] 实例 %s 已打开，承诺模式 %s", opt.InstanceId, opt.Mode)
	return cc, nil
}

// 全局初始化
func (cc *CC) globalInit() fx.Option {
	return fx.Provide(
		func() context.Context {
			return cc.ctx
		},
		func() *Options {
			return cc.opt
		},
	)
}

// initDirectories 确保所有预定义的文件夹都存在
func initDirectories(opt *Options) error {
	directories := []string{
		opt.dbPath(),      // 数据库目录
		opt.logsPath(),    // 日志目录
		opt.archivePath(), // 归档目录
		opt.exportPath(),  // 导出目录
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

type NewArchiveServiceOutput struct {
	fx.Out
	Archive *Archive
}

// NewArchiveService 打开编译归档，实例关闭时关闭
func NewArchiveService(lc fx.Lifecycle, opt *Options) (out NewArchiveServiceOutput, err error) {
	archive, err := OpenArchive(opt.archivePath())
	if err != nil {
		logrus.Errorf("[NewArchiveService] 打开归档失败:\t%v", err)
		return out, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return archive.Close()
		},
	})
	out.Archive = archive
	return out, nil
}

// NewIndexService 打开编译索引数据库并建表
func NewIndexService(lc fx.Lifecycle, opt *Options) (*SqliteDB, error) {
	db, err := NewSqliteDB(opt.dbPath(), DbFile)
	if err != nil {
		logrus.Errorf("[NewIndexService] 打开数据库失败:\t%v", err)
		return nil, err
	}
	if err := db.InitDBTable(); err != nil {
		db.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

// NewFileStoreService 在导出目录上创建文件存储
func NewFileStoreService(opt *Options) (*FileStore, error) {
	return NewFileStore(afero.NewOsFs(), opt.exportPath())
}

// NewEmulatorService 模拟器承诺模式下由种子创建模拟器，否则为 nil
func NewEmulatorService(opt *Options) (*emulator.HD, error) {
	if opt.Mode != policy.CommitEmulated {
		return nil, nil
	}
	return emulator.NewHDFromPassphrase(opt.EmulatorSeed, []byte(opt.InstanceId))
}

type NewCompilerServiceInput struct {
	fx.In

	Opt *Options
	Emu *emulator.HD
}

// NewCompilerService 按选项创建编译器
func NewCompilerService(input NewCompilerServiceInput) (*compiler.Compiler, error) {
	var deriver policy.KeyDeriver
	if input.Emu != nil {
		deriver = input.Emu
	}
	return compiler.New(input.Opt.compilerConfig(deriver))
}

// NewRegistryService 注册内置合约模块
func NewRegistryService() (*contract.Registry, error) {
	reg := contract.NewRegistry()
	if err := contracts.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Registry 返回合约模块注册表
func (cc *CC) Registry() *contract.Registry {
	return cc.registry
}

// Emulator 返回模拟器，CTV 模式下为 nil
func (cc *CC) Emulator() *emulator.HD {
	return cc.emu
}

// Params 返回地址网络参数
func (cc *CC) Params() *chaincfg.Params {
	return cc.params
}

// Compile 在新会话中编译合约，并把整张合约图写入归档和索引
func (cc *CC) Compile(ctx context.Context, k contract.Contract, funding amount.Amount) (*Graph, error) {
	sess := compiler.NewSession()
	obj, err := cc.compiler.Compile(ctx, sess, k, funding)
	if err != nil {
		return nil, err
	}
	return cc.record(&Graph{Root: obj, Session: sess})
}

// CompileModule 按模块名和参数在新会话中编译合约，version 为空时取最新版本
func (cc *CC) CompileModule(ctx context.Context, name, version string, args []byte, funding amount.Amount) (*Graph, error) {
	sess := compiler.NewSession()
	obj, err := cc.compiler.CompileModule(ctx, sess, cc.registry, name, version, args, funding)
	if err != nil {
		return nil, err
	}
	return cc.record(&Graph{Root: obj, Session: sess})
}

// record 归档并索引合约图中的每个合约
func (cc *CC) record(g *Graph) (*Graph, error) {
	root := g.Root
	err := compiler.Walk(g.Session, root, func(obj *compiler.Object, _ int) error {
		rec, err := NewRecord(obj)
		if err != nil {
			return err
		}
		if err := cc.archive.Put(rec); err != nil {
			logrus.Errorf("[record] 归档失败:\t%v", err)
			return err
		}

		addr, err := obj.Policy.Address(cc.params)
		if err != nil {
			return err
		}
		templates := 0
		for _, b := range obj.Branches {
			templates += len(b.Templates)
		}
		cd := &CompiledDatabase{
			CacheKey:   obj.Key.String(),
			TypeID:     obj.TypeID,
			Funding:    uint64(obj.Funding),
			Address:    addr,
			Descriptor: obj.Policy.Descriptor,
			Templates:  templates,
			Root:       obj == root,
			CreatedAt:  rec.CreatedAt,
		}
		if err := cd.CreateCompiledDatabase(cc.db); err != nil {
			logrus.Errorf("[record] 索引失败:\t%v", err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Authorize 向模拟器请求合约图中每个模板哈希的承诺签名。模拟器返回的错误原样返回。
func (cc *CC) Authorize(ctx context.Context, g *Graph) (map[chainhash.Hash]emulator.Signature, error) {
	if cc.emu == nil {
		return nil, ErrNoEmulator
	}
	return Authorize(ctx, cc.emu, g.Session, g.Root)
}

// Authorize 遍历合约图，为每个模板哈希请求一次承诺
func Authorize(ctx context.Context, emu emulator.Emulator, sess *compiler.Session, root *compiler.Object) (map[chainhash.Hash]emulator.Signature, error) {
	sigs := make(map[chainhash.Hash]emulator.Signature)
	err := compiler.Walk(sess, root, func(obj *compiler.Object, _ int) error {
		for _, b := range obj.Branches {
			// 完成路径的建议模板不受模拟器签名约束
			if b.Finish {
				continue
			}
			for _, h := range b.Hashes {
				if _, ok := sigs[h]; ok {
					continue
				}
				sig, err := emu.RequestCommitment(ctx, h)
				if err != nil {
					return err
				}
				sigs[h] = sig
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sigs, nil
}

// Export 把合约图导出到导出目录
func (cc *CC) Export(g *Graph) ([]string, error) {
	return cc.store.Export(g.Session, g.Root, cc.params)
}

// Archive 返回编译归档
func (cc *CC) Archive() *Archive {
	return cc.archive
}

// Index 按合约类型查询编译索引
func (cc *CC) Index(typeID string) ([]*CompiledDatabase, error) {
	return QueryCompiledDatabase(cc.db, typeID)
}

// Close 停止依赖图，关闭归档与数据库
func (cc *CC) Close() error {
	if !cc.opt.IsOpen {
		return fmt.Errorf("'%s' 编译实例未打开", cc.opt.InstanceId)
	}
	cc.opt.IsOpen = false
	return cc.app.Stop(cc.ctx)
}
