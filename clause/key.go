package clause

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// KeyID 以压缩公钥的十六进制编码标识一个签名方
type KeyID string

// NewKeyID 由公钥生成 KeyID
func NewKeyID(pub *btcec.PublicKey) KeyID {
	return KeyID(hex.EncodeToString(pub.SerializeCompressed()))
}

// ParseKeyID 解析并校验十六进制编码的公钥
func ParseKeyID(s string) (KeyID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid key id %q: %w", s, err)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return "", fmt.Errorf("invalid key id %q: %w", s, err)
	}
	return KeyID(hex.EncodeToString(pub.SerializeCompressed())), nil
}

// PubKey 返回对应的公钥
func (k KeyID) PubKey() (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(string(k))
	if err != nil {
		return nil, fmt.Errorf("invalid key id %q: %w", string(k), err)
	}
	return secp256k1.ParsePubKey(raw)
}

// Bytes 返回 33 字节压缩公钥
func (k KeyID) Bytes() ([]byte, error) {
	pub, err := k.PubKey()
	if err != nil {
		return nil, err
	}
	return pub.SerializeCompressed(), nil
}
