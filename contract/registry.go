package contract

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Module 可注册的合约模块
type Module struct {
	Name        string
	Version     string // 点分版本号，例如 1.2.0
	Description string
	Params      []ParameterDef
	New         func(args Args) (Contract, error)
}

// Construct 校验原始参数后构造合约
func (m Module) Construct(raw []byte) (Contract, error) {
	args, err := ValidateArgs(m.Name, m.Params, raw)
	if err != nil {
		return nil, err
	}
	c, err := m.New(args)
	if err != nil {
		return nil, &SchemaError{Module: m.Name, Reason: err.Error()}
	}
	return c, nil
}

// Registry 按名称和版本索引的模块注册表
type Registry struct {
	mu      sync.RWMutex
	modules map[string][]Module // 名称 -> 按版本升序排列
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string][]Module)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register 注册模块，同名同版本重复注册返回错误
func (r *Registry) Register(m Module) error {
	if m.Name == "" || m.New == nil {
		return fmt.Errorf("module must have a name and a constructor")
	}
	if _, err := CompareVersions(m.Version, "0"); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := normalize(m.Name)
	list := r.modules[name]
	for _, existing := range list {
		if cmp, _ := CompareVersions(existing.Version, m.Version); cmp == 0 {
			return fmt.Errorf("module %s version %s already registered", m.Name, m.Version)
		}
	}
	list = append(list, m)
	sort.SliceStable(list, func(i, j int) bool {
		cmp, _ := CompareVersions(list[i].Version, list[j].Version)
		return cmp < 0
	})
	r.modules[name] = list
	return nil
}

// Resolve 按名称和版本查找模块，version 为空时返回最新版本
func (r *Registry) Resolve(name, version string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.modules[normalize(name)]
	if len(list) == 0 {
		return Module{}, fmt.Errorf("no module registered for: %s", name)
	}
	if version == "" {
		return list[len(list)-1], nil
	}
	for _, m := range list {
		cmp, err := CompareVersions(m.Version, version)
		if err != nil {
			return Module{}, err
		}
		if cmp == 0 {
			return m, nil
		}
	}
	return Module{}, fmt.Errorf("module %s has no version %s", name, version)
}

// Names 返回所有已注册的模块名，按字母排序
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
