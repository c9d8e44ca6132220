package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/qinglongcn/covenant/amount"
)

// Key 编译缓存键：合约类型、规范参数、金额与编译配置的摘要
type Key [sha256.Size]byte

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Short 前 8 个十六进制字符，用于日志
func (k Key) Short() string {
	return hex.EncodeToString(k[:4])
}

// canonicalizer 自带规范编码的参数
type canonicalizer interface {
	Canonical() ([]byte, error)
}

// KeyFor 计算缓存键。args 优先使用其 Canonical 方法，否则使用 encoding/json。
func KeyFor(typeID string, args any, funding amount.Amount, fingerprint []byte) (Key, error) {
	var raw []byte
	var err error
	if c, ok := args.(canonicalizer); ok {
		raw, err = c.Canonical()
	} else {
		raw, err = json.Marshal(args)
	}
	if err != nil {
		return Key{}, fmt.Errorf("encode arguments of %s: %w", typeID, err)
	}

	h := sha256.New()
	var scratch [8]byte
	writeBytes := func(b []byte) {
		binary.BigEndian.PutUint64(scratch[:], uint64(len(b)))
		h.Write(scratch[:])
		h.Write(b)
	}
	writeBytes([]byte(typeID))
	writeBytes(raw)
	binary.BigEndian.PutUint64(scratch[:], uint64(funding))
	h.Write(scratch[:])
	writeBytes(fingerprint)

	var k Key
	copy(k[:], h.Sum(nil))
	return k, nil
}
