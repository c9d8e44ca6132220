package covenant

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteDB 对 sqlite 的简单封装
type SqliteDB struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSqliteDB 打开 dir 下的数据库文件，目录不存在时创建
func NewSqliteDB(dir, file string) (*SqliteDB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, file))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteDB{db: db}, nil
}

// CreateTable 创建表，已存在时忽略
func (s *SqliteDB) CreateTable(name string, columns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(columns, ", "))
	_, err := s.db.Exec(query)
	return err
}

// Insert 插入一行，唯一约束冲突时忽略
func (s *SqliteDB) Insert(table string, data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cols := make([]string, 0, len(data))
	for k := range data {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	args := make([]interface{}, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		args[i] = data[c]
		marks[i] = "?"
	}
	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	_, err := s.db.Exec(query, args...)
	return err
}

// Exists 判断满足条件的行是否存在
func (s *SqliteDB) Exists(table string, conditions []string, args []interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s%s)", table, where(conditions))
	var exists bool
	if err := s.db.QueryRow(query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Select 查询满足条件的行，按 orderBy 排序
func (s *SqliteDB) Select(table string, columns, conditions []string, args []interface{}, orderBy string) (*sql.Rows, error) {
	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(columns, ", "), table, where(conditions))
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}
	return s.db.Query(query, args...)
}

// Close 关闭数据库
func (s *SqliteDB) Close() error {
	return s.db.Close()
}

func where(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}
