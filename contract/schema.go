package contract

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/qinglongcn/covenant/amount"
	"github.com/qinglongcn/covenant/clause"
)

// ParamType 参数类型
type ParamType string

const (
	TypeString   ParamType = "string"   // JSON 字符串
	TypeUint64   ParamType = "uint64"   // 非负整数
	TypeAmount   ParamType = "amount"   // 聪，不超过总量上限
	TypeBool     ParamType = "bool"     // 布尔值
	TypeBytes    ParamType = "bytes"    // 十六进制字节串
	TypeHash     ParamType = "hash"     // 32 字节十六进制
	TypeKey      ParamType = "key"      // 压缩公钥十六进制
	TypeKeys     ParamType = "keys"     // 压缩公钥数组
	TypeScript   ParamType = "script"   // 十六进制输出脚本
	TypePayments ParamType = "payments" // [{"amount":..,"script":".."}]
)

// ParameterDef 描述模块的一个构造参数
type ParameterDef struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
	Min         *uint64 // uint64 / amount 的下限，nil 表示不限
	Max         *uint64 // uint64 / amount 的上限，nil 表示不限
	MaxLength   int     // bytes / keys / payments 的最大长度，0 表示不限
}

// SchemaError 参数不符合模块声明的模式，在构造合约之前返回
type SchemaError struct {
	Module string
	Param  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("module %s: invalid arguments: %s", e.Module, e.Reason)
	}
	return fmt.Sprintf("module %s: parameter %q: %s", e.Module, e.Param, e.Reason)
}

// Payment 支付参数的元素
type Payment struct {
	Amount amount.Amount `json:"amount"`
	Script string        `json:"script"`
}

// Args 已通过模式校验的参数
type Args map[string]json.RawMessage

// Has 参数是否存在
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Canonical 返回键有序、无多余空白的 JSON
func (a Args) Canonical() ([]byte, error) {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(name)
		buf.Write(k)
		buf.WriteByte(':')
		if err := json.Compact(&buf, a[name]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (a Args) decode(name string, v any) error {
	raw, ok := a[name]
	if !ok {
		return fmt.Errorf("missing argument %q", name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("argument %q: %w", name, err)
	}
	return nil
}

// String 读取字符串参数
func (a Args) String(name string) (string, error) {
	var s string
	err := a.decode(name, &s)
	return s, err
}

// Uint64 读取整数参数
func (a Args) Uint64(name string) (uint64, error) {
	var v uint64
	err := a.decode(name, &v)
	return v, err
}

// Amount 读取金额参数
func (a Args) Amount(name string) (amount.Amount, error) {
	v, err := a.Uint64(name)
	return amount.Amount(v), err
}

// Bool 读取布尔参数
func (a Args) Bool(name string) (bool, error) {
	var v bool
	err := a.decode(name, &v)
	return v, err
}

// Bytes 读取十六进制参数（bytes / script 类型）
func (a Args) Bytes(name string) ([]byte, error) {
	s, err := a.String(name)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(s)
}

// Hash 读取哈希参数
func (a Args) Hash(name string) (chainhash.Hash, error) {
	s, err := a.String(name)
	if err != nil {
		return chainhash.Hash{}, err
	}
	var h chainhash.Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if err := h.SetBytes(b); err != nil {
		return h, err
	}
	return h, nil
}

// Key 读取公钥参数
func (a Args) Key(name string) (clause.KeyID, error) {
	s, err := a.String(name)
	if err != nil {
		return "", err
	}
	return clause.ParseKeyID(s)
}

// Keys 读取公钥数组参数
func (a Args) Keys(name string) ([]clause.KeyID, error) {
	var list []string
	if err := a.decode(name, &list); err != nil {
		return nil, err
	}
	keys := make([]clause.KeyID, 0, len(list))
	for _, s := range list {
		k, err := clause.ParseKeyID(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Payments 读取支付数组参数，脚本统一为小写十六进制
func (a Args) Payments(name string) ([]Payment, error) {
	var list []Payment
	if err := a.decode(name, &list); err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Script = strings.ToLower(list[i].Script)
	}
	return list, nil
}

// ValidateArgs 按参数定义校验原始 JSON 对象。
// 未知参数、缺失的必选参数以及类型或范围不符都返回 *SchemaError。
func ValidateArgs(module string, params []ParameterDef, raw []byte) (Args, error) {
	args := Args{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &SchemaError{Module: module, Reason: fmt.Sprintf("arguments must be a JSON object: %v", err)}
		}
	}

	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.Name] = true
	}
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !known[name] {
			return nil, &SchemaError{Module: module, Param: name, Reason: "unknown parameter"}
		}
	}

	for _, p := range params {
		value, ok := args[p.Name]
		if !ok || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			if p.Required {
				return nil, &SchemaError{Module: module, Param: p.Name, Reason: "required parameter missing"}
			}
			delete(args, p.Name)
			continue
		}
		if err := validateValue(p, args); err != nil {
			return nil, &SchemaError{Module: module, Param: p.Name, Reason: err.Error()}
		}
	}
	return args, nil
}

func validateValue(p ParameterDef, args Args) error {
	switch p.Type {
	case TypeString:
		_, err := args.String(p.Name)
		return err
	case TypeBool:
		_, err := args.Bool(p.Name)
		return err
	case TypeUint64:
		v, err := args.Uint64(p.Name)
		if err != nil {
			return err
		}
		return checkRange(v, p.Min, p.Max)
	case TypeAmount:
		v, err := args.Amount(p.Name)
		if err != nil {
			return err
		}
		if err := v.Valid(); err != nil {
			return err
		}
		return checkRange(uint64(v), p.Min, p.Max)
	case TypeBytes, TypeScript:
		b, err := args.Bytes(p.Name)
		if err != nil {
			return err
		}
		if len(b) == 0 {
			return fmt.Errorf("value cannot be empty")
		}
		return checkLength(len(b), p.MaxLength)
	case TypeHash:
		_, err := args.Hash(p.Name)
		return err
	case TypeKey:
		_, err := args.Key(p.Name)
		return err
	case TypeKeys:
		keys, err := args.Keys(p.Name)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return fmt.Errorf("at least one key required")
		}
		return checkLength(len(keys), p.MaxLength)
	case TypePayments:
		pays, err := args.Payments(p.Name)
		if err != nil {
			return err
		}
		if len(pays) == 0 {
			return fmt.Errorf("at least one payment required")
		}
		for i, pay := range pays {
			if pay.Amount == 0 {
				return fmt.Errorf("payment %d has zero amount", i)
			}
			if err := pay.Amount.Valid(); err != nil {
				return fmt.Errorf("payment %d: %w", i, err)
			}
			if b, err := hex.DecodeString(pay.Script); err != nil || len(b) == 0 {
				return fmt.Errorf("payment %d has invalid script", i)
			}
		}
		return checkLength(len(pays), p.MaxLength)
	}
	return fmt.Errorf("unsupported parameter type: %s", p.Type)
}

func checkRange(v uint64, min, max *uint64) error {
	if min != nil && v < *min {
		return fmt.Errorf("value %d is below minimum %d", v, *min)
	}
	if max != nil && v > *max {
		return fmt.Errorf("value %d exceeds maximum %d", v, *max)
	}
	return nil
}

func checkLength(n, max int) error {
	if max > 0 && n > max {
		return fmt.Errorf("length %d exceeds maximum %d", n, max)
	}
	return nil
}
