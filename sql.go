package covenant

import (
	"fmt"
)

// CompiledDatabase 编译索引的数据库对象
type CompiledDatabase struct {
	Id         int    // 自增长主键
	CacheKey   string // 缓存键
	TypeID     string // 合约类型
	Funding    uint64 // 锁定金额
	Address    string // P2WSH 地址
	Descriptor string // 描述符
	Templates  int    // 模板数量
	Root       bool   // 是否为顶层合约
	CreatedAt  int64  // 编译时间
}

var compiledColumns = []string{"id", "cacheKey", "typeID", "funding", "address", "descriptor", "templates", "root", "createdAt"}

// ExistsCompiledDatabase 判断缓存键是否已建立索引
func ExistsCompiledDatabase(s *SqliteDB, cacheKey string) (bool, error) {
	conditions := []string{"cacheKey=?"} // 查询条件
	args := []interface{}{cacheKey}      // 查询条件对应的值
	exists, err := s.Exists(compiledTable, conditions, args)
	if err != nil {
		return exists, fmt.Errorf("数据库操作失败: %w", err)
	}

	return exists, nil
}

// CreateCompiledDatabase 保存编译记录到数据库，缓存键已存在时忽略
func (cd *CompiledDatabase) CreateCompiledDatabase(s *SqliteDB) error {
	data := map[string]interface{}{
		"cacheKey":   cd.CacheKey,
		"typeID":     cd.TypeID,
		"funding":    int64(cd.Funding),
		"address":    cd.Address,
		"descriptor": cd.Descriptor,
		"templates":  cd.Templates,
		"root":       cd.Root,
		"createdAt":  cd.CreatedAt,
	}

	if err := s.Insert(compiledTable, data); err != nil {
		return fmt.Errorf("数据库操作失败: %w", err)
	}

	return nil
}

// QueryCompiledDatabase 按合约类型查询编译记录，typeID 为空时返回全部
func QueryCompiledDatabase(s *SqliteDB, typeID string) ([]*CompiledDatabase, error) {
	var conditions []string
	var args []interface{}
	if typeID != "" {
		conditions = append(conditions, "typeID=?")
		args = append(args, typeID)
	}

	rows, err := s.Select(compiledTable, compiledColumns, conditions, args, "id")
	if err != nil {
		return nil, fmt.Errorf("数据库操作失败: %w", err)
	}
	defer rows.Close()

	var out []*CompiledDatabase
	for rows.Next() {
		cd := new(CompiledDatabase)
		var funding int64
		if err := rows.Scan(&cd.Id, &cd.CacheKey, &cd.TypeID, &funding, &cd.Address, &cd.Descriptor, &cd.Templates, &cd.Root, &cd.CreatedAt); err != nil {
			return nil, err
		}
		cd.Funding = uint64(funding)
		out = append(out, cd)
	}
	return out, rows.Err()
}
