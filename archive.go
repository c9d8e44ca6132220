package covenant

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/qinglongcn/covenant/cache"
	"github.com/qinglongcn/covenant/compiler"
)

// 归档键前缀
const recordPrefix = "obj:"

// ErrNotArchived 归档中没有该合约
var ErrNotArchived = errors.New("object not archived")

// RecordBranch 归档的分支
type RecordBranch struct {
	Name      string
	Finish    bool
	Templates [][]byte // 以空父交易序列化的模板
	Hashes    [][]byte
}

// Record 归档的已编译合约。嵌套合约按缓存键引用。
type Record struct {
	Key           string
	TypeID        string
	Funding       uint64
	Descriptor    string
	WitnessScript []byte
	PkScript      []byte
	Digest        []byte
	Branches      []RecordBranch
	Children      []string
	CreatedAt     int64
}

// NewRecord 由已编译合约生成归档记录
func NewRecord(obj *compiler.Object) (*Record, error) {
	rec := &Record{
		Key:           obj.Key.String(),
		TypeID:        obj.TypeID,
		Funding:       uint64(obj.Funding),
		Descriptor:    obj.Policy.Descriptor,
		WitnessScript: obj.Policy.WitnessScript,
		PkScript:      obj.Policy.PkScript,
		Digest:        obj.Digest[:],
		CreatedAt:     time.Now().Unix(),
	}
	for _, b := range obj.Branches {
		rb := RecordBranch{Name: b.Name, Finish: b.Finish}
		for i, t := range b.Templates {
			raw, err := t.Serialize(chainhash.Hash{})
			if err != nil {
				return nil, fmt.Errorf("serialize %s/%s template %d: %w", obj.TypeID, b.Name, i, err)
			}
			h := b.Hashes[i]
			rb.Templates = append(rb.Templates, raw)
			rb.Hashes = append(rb.Hashes, h[:])
		}
		rec.Branches = append(rec.Branches, rb)
	}
	for _, k := range obj.Children {
		rec.Children = append(rec.Children, k.String())
	}
	return rec, nil
}

// Archive 已编译合约的持久归档。编译会话从不读取归档。
type Archive struct {
	Database *badger.DB
}

// OpenArchive 打开或创建归档，path 为空时使用内存数据库
func OpenArchive(path string) (*Archive, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(path)
		opts.ValueDir = path
	}
	opts = opts.WithLogger(badgerLogger{logrus.WithField("module", "archive")})

	db, err := openDB(path, opts)
	if err != nil {
		return nil, err
	}
	return &Archive{Database: db}, nil
}

// Put 写入归档，已存在的键不覆盖
func (a *Archive) Put(rec *Record) error {
	data, err := EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("编码归档记录失败: %w", err)
	}
	key := []byte(recordPrefix + rec.Key)

	return a.Database.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// Get 按缓存键读取归档
func (a *Archive) Get(key cache.Key) (*Record, error) {
	var rec *Record
	err := a.Database.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, []byte(recordPrefix+key.String()))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Has 判断缓存键是否已归档
func (a *Archive) Has(key cache.Key) (bool, error) {
	_, err := a.Get(key)
	if errors.Is(err, ErrNotArchived) {
		return false, nil
	}
	return err == nil, err
}

// Close 关闭归档数据库
func (a *Archive) Close() error {
	return a.Database.Close()
}

func getRecord(txn *badger.Txn, key []byte) (*Record, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotArchived
		}
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	rec := new(Record)
	if err := DecodeFromBytes(data, rec); err != nil {
		return nil, fmt.Errorf("解码归档记录失败: %w", err)
	}
	return rec, nil
}

// badgerLogger 把 badger 日志转给 logrus，Info 降为 Debug
type badgerLogger struct {
	*logrus.Entry
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Entry.Debugf(format, args...)
}

// openDB 打开数据库，如果因为存在 LOCK 文件打开失败，执行 retry 确保打开
func openDB(path string, opts badger.Options) (*badger.DB, error) {
	db, err := badger.Open(opts)
	if err != nil && path != "" && strings.Contains(err.Error(), "LOCK") {
		db, err = retry(path, opts)
		if err != nil {
			return nil, fmt.Errorf("无法解锁数据库: %w", err)
		}
		return db, nil
	} else if err != nil {
		return nil, err
	}
	return db, nil
}

// retry 删除 lock 文件，并再次尝试打开数据库
func retry(path string, opts badger.Options) (*badger.DB, error) {
	lockPath := filepath.Join(path, "LOCK")

	// 检查锁文件是否可以安全删除
	if err := checkLock(lockPath); err != nil {
		return nil, err
	}

	if err := os.Remove(lockPath); err != nil {
		return nil, fmt.Errorf("移除 LOCK: %w", err)
	}

	var db *badger.DB
	var err error
	for i := 0; i < 3; i++ {
		db, err = badger.Open(opts)
		if err == nil {
			return db, nil
		}
		logrus.Errorf("[retry] 打开归档失败，%d 秒后重试", i+1)
		time.Sleep(time.Duration(i+1) * time.Second)
	}

	return nil, fmt.Errorf("打开数据库失败: %w", err)
}

// checkLock 检查锁文件是否可以安全删除
func checkLock(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("打开 LOCK 文件失败: %w", err)
	}
	defer file.Close()

	// 尝试获取文件锁
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fmt.Errorf("数据库正被其他进程使用: %w", err)
	}
	return syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
}
