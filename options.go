package covenant

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/compiler"
	"github.com/qinglongcn/covenant/policy"
)

// 根路径下的目录与文件
const (
	dbDir      = "db"      // 数据库目录
	logsDir    = "logs"    // 日志目录
	archiveDir = "archive" // 编译归档（badger）
	exportDir  = "export"  // 模板导出目录
	DbFile     = "index.db"
)

// Options 是用于创建编译实例的参数
type Options struct {
	IsOpen bool `optional:"false"  default:"false" yaml:"-"` // 实例是否已打开

	RootPath   string `yaml:"root_path"`   // 数据根路径
	InstanceId string `yaml:"instance_id"` // 实例标识符，用于区分日志文件
	Network    string `yaml:"network"`     // 地址所用网络：mainnet、testnet3、regtest、signet、simnet
	LogLevel   string `yaml:"log_level"`   // logrus 日志级别
	LogToFile  bool   `yaml:"log_to_file"` // 是否写滚动日志文件

	MinFee              amount.Amount `yaml:"min_fee"`               // 每个模板的最低手续费
	MaxFee              amount.Amount `yaml:"max_fee"`               // 每个模板的最高手续费，0 表示不限
	MaxScriptSize       int           `yaml:"max_script_size"`       // 见证脚本最大字节数
	MaxSatisfactionSize int           `yaml:"max_satisfaction_size"` // 满足见证最大字节数
	MaxWitnessItems     int           `yaml:"max_witness_items"`     // 见证栈最大元素数
	MaxDepth            int           `yaml:"max_depth"`             // 合约嵌套最大深度
	Parallelism         int           `yaml:"parallelism"`           // 兄弟合约并发数

	Mode             policy.CommitmentMode `yaml:"-"`                 // CTV 或模拟器承诺
	EmulatorSeed     []byte                `yaml:"-"`                 // 模拟器口令，Mode 为 CommitEmulated 时必需
	CheckDeterminism bool                  `yaml:"check_determinism"` // 每个合约求值两次比较
	CheckStandard    bool                  `yaml:"check_standard"`    // 终端输出脚本必须是标准脚本
}

// optionsFile 选项文件的结构。承诺方式与种子以字符串给出。
type optionsFile struct {
	Options      `yaml:",inline"`
	Commitment   string `yaml:"commitment"` // ctv 或 emulated
	EmulatorSeed string `yaml:"emulator_seed"`
}

// LoadOptions 从 YAML 文件读取选项，未出现的字段保持默认值
func LoadOptions(fs afero.Fs, path string) (*Options, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("读取选项文件失败: %w", err)
	}

	file := optionsFile{Options: *DefaultOptions()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("解析选项文件 %s 失败: %w", path, err)
	}

	opt := file.Options
	switch file.Commitment {
	case "", "ctv":
		opt.Mode = policy.CommitCTV
	case "emulated":
		opt.Mode = policy.CommitEmulated
		opt.EmulatorSeed = []byte(file.EmulatorSeed)
	default:
		return nil, fmt.Errorf("未知的承诺方式: %q", file.Commitment)
	}
	return &opt, nil
}

// DefaultOptions 设置一个推荐选项列表
func DefaultOptions() *Options {
	limits := policy.DefaultLimits()
	return &Options{
		RootPath:            filepath.Join(os.TempDir(), "covenant"),
		Network:             chaincfg.MainNetParams.Name,
		LogLevel:            "info",
		LogToFile:           true,
		MinFee:              compiler.DefaultMinFee,
		MaxScriptSize:       limits.MaxScriptSize,
		MaxSatisfactionSize: limits.MaxSatisfactionSize,
		MaxWitnessItems:     limits.MaxWitnessItems,
		MaxDepth:            compiler.DefaultMaxDepth,
		Parallelism:         runtime.NumCPU(),
		Mode:                policy.CommitCTV,
		CheckStandard:       true,
	}
}

// BuildInstanceId 设置实例ID，未指定时生成随机ID
func (opt *Options) BuildInstanceId(instanceId ...string) {
	if opt.IsOpen {
		return
	}

	if len(instanceId) > 0 && instanceId[0] != "" {
		opt.InstanceId = instanceId[0]
		return
	}
	id, err := generateRandomString(12)
	if err != nil {
		return
	}
	opt.InstanceId = id
}

// BuildRootPath 设置数据根路径
func (opt *Options) BuildRootPath(path string) {
	if opt.IsOpen || path == "" {
		return
	}

	// 只接受绝对路径
	if !filepath.IsAbs(path) {
		return
	}
	opt.RootPath = path
}

// BuildNetwork 设置地址网络
func (opt *Options) BuildNetwork(network string) {
	if opt.IsOpen {
		return
	}
	opt.Network = network
}

// BuildEmulator 切换为模拟器承诺
func (opt *Options) BuildEmulator(seed []byte) {
	if opt.IsOpen {
		return
	}
	opt.Mode = policy.CommitEmulated
	opt.EmulatorSeed = append([]byte(nil), seed...)
}

// BuildMinFee 设置每个模板的最低手续费
func (opt *Options) BuildMinFee(fee amount.Amount) {
	if opt.IsOpen {
		return
	}
	opt.MinFee = fee
}

// BuildMaxFee 限制每个模板的最高手续费，0 表示不限
func (opt *Options) BuildMaxFee(fee amount.Amount) {
	if opt.IsOpen {
		return
	}
	opt.MaxFee = fee
}

// BuildLimits 设置脚本与满足代价的上限
func (opt *Options) BuildLimits(limits policy.Limits) {
	if opt.IsOpen {
		return
	}
	opt.MaxScriptSize = limits.MaxScriptSize
	opt.MaxSatisfactionSize = limits.MaxSatisfactionSize
	opt.MaxWitnessItems = limits.MaxWitnessItems
}

// BuildMaxDepth 设置最大嵌套深度
func (opt *Options) BuildMaxDepth(depth int) {
	if opt.IsOpen {
		return
	}
	opt.MaxDepth = depth
}

// BuildDeterminismCheck 开启确定性检查
func (opt *Options) BuildDeterminismCheck() {
	if opt.IsOpen {
		return
	}
	opt.CheckDeterminism = true
}

// CheckAndSetOptions 检查并设置选项
func (opt *Options) CheckAndSetOptions() error {
	if opt.IsOpen {
		return fmt.Errorf("'%s' 编译实例已打开", opt.InstanceId)
	}
	if opt.RootPath == "" {
		return fmt.Errorf("根路径不能为空")
	}
	if _, err := opt.chainParams(); err != nil {
		return err
	}
	if opt.Mode == policy.CommitEmulated && len(opt.EmulatorSeed) == 0 {
		return fmt.Errorf("模拟器承诺需要种子")
	}
	if err := opt.MinFee.Valid(); err != nil {
		return err
	}
	if opt.MaxFee != 0 && opt.MaxFee < opt.MinFee {
		return fmt.Errorf("最高手续费 %s 低于最低手续费 %s", opt.MaxFee, opt.MinFee)
	}
	if opt.MaxScriptSize <= 0 || opt.MaxSatisfactionSize <= 0 || opt.MaxWitnessItems <= 0 {
		return fmt.Errorf("脚本限制必须为正数")
	}
	if opt.MaxDepth <= 0 {
		opt.MaxDepth = compiler.DefaultMaxDepth
	}
	if opt.InstanceId == "" {
		opt.BuildInstanceId()
	}
	return nil
}

// chainParams 按名称返回网络参数
func (opt *Options) chainParams() (*chaincfg.Params, error) {
	return ChainParams(opt.Network)
}

// compilerConfig 把选项投影为编译配置
func (opt *Options) compilerConfig(deriver policy.KeyDeriver) compiler.Config {
	cfg := compiler.Config{
		MinFee: opt.MinFee,
		MaxFee: opt.MaxFee,
		Limits: policy.Limits{
			MaxScriptSize:       opt.MaxScriptSize,
			MaxSatisfactionSize: opt.MaxSatisfactionSize,
			MaxWitnessItems:     opt.MaxWitnessItems,
		},
		Mode:             opt.Mode,
		MaxDepth:         opt.MaxDepth,
		Parallelism:      opt.Parallelism,
		CheckDeterminism: opt.CheckDeterminism,
	}
	if deriver != nil {
		cfg.Deriver = deriver
	}
	if opt.CheckStandard {
		cfg.CheckScript = CheckStandardScript
	}
	return cfg
}

func (opt *Options) dbPath() string      { return filepath.Join(opt.RootPath, dbDir) }
func (opt *Options) logsPath() string    { return filepath.Join(opt.RootPath, logsDir) }
func (opt *Options) archivePath() string { return filepath.Join(opt.RootPath, dbDir, archiveDir) }
func (opt *Options) exportPath() string  { return filepath.Join(opt.RootPath, exportDir) }
