package covenant

import "fmt"

const compiledTable = "compiled"

// InitDBTable 数据库表
func (s *SqliteDB) InitDBTable() error {
	// 创建编译索引表
	if err := s.createCompiledTable(); err != nil {
		return err
	}

	return nil
}

// createCompiledTable 创建编译索引表
func (s *SqliteDB) createCompiledTable() error {
	table := []string{
		"id INTEGER PRIMARY KEY AUTOINCREMENT", // 自增长主键
		"cacheKey VARCHAR(64) UNIQUE",          // 缓存键
		"typeID VARCHAR(100)",                  // 合约类型
		"funding INTEGER",                      // 锁定金额（聪）
		"address VARCHAR(100)",                 // P2WSH 地址
		"descriptor TEXT",                      // 描述符
		"templates INTEGER",                    // 模板数量
		"root BOOLEAN",                         // 是否为顶层合约
		"createdAt INTEGER",                    // 编译时间
	}

	if err := s.CreateTable(compiledTable, table); err != nil {
		return fmt.Errorf("数据库操作失败: %w", err)
	}

	return nil
}
