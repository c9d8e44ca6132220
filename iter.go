package covenant

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// ArchiveIterator 按键序遍历归档
type ArchiveIterator struct {
	keys     [][]byte
	pos      int
	Database *badger.DB
}

// Iterator 创建遍历归档的迭代器，prefix 为缓存键十六进制前缀，空串表示全部
func (a *Archive) Iterator(prefix string) *ArchiveIterator {
	iter := &ArchiveIterator{Database: a.Database}
	full := []byte(recordPrefix + prefix)

	err := a.Database.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = full
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(full); it.ValidForPrefix(full); it.Next() {
			iter.keys = append(iter.keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		logrus.Errorf("[Iterator] 列出归档失败:\t%v", err)
	}
	return iter
}

// Next 返回下一条记录，遍历结束返回 nil
func (iter *ArchiveIterator) Next() *Record {
	for iter.pos < len(iter.keys) {
		key := iter.keys[iter.pos]
		iter.pos++

		var rec *Record
		// 只读取，不需要写入
		err := iter.Database.View(func(txn *badger.Txn) error {
			var err error
			rec, err = getRecord(txn, key)
			return err
		})
		if err != nil {
			logrus.Errorf("[Next] 获取归档记录时出错:\t%v", err)
			continue
		}
		return rec
	}
	return nil
}

// Len 迭代器中的记录数
func (iter *ArchiveIterator) Len() int {
	return len(iter.keys)
}
