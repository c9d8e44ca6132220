package emulator

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/qinglongcn/covenant/clause"
)

// Keyring 按 KeyID 保存私钥，为 RequestSignature 提供签名
type Keyring struct {
	mu   sync.RWMutex
	keys map[clause.KeyID]*btcec.PrivateKey
}

// NewKeyring 创建空密钥环
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[clause.KeyID]*btcec.PrivateKey)}
}

// Add 登记私钥并返回其 KeyID
func (k *Keyring) Add(priv *btcec.PrivateKey) clause.KeyID {
	id := clause.NewKeyID(priv.PubKey())
	k.mu.Lock()
	k.keys[id] = priv
	k.mu.Unlock()
	return id
}

// Has 是否持有该公钥的私钥
func (k *Keyring) Has(id clause.KeyID) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[id]
	return ok
}

// RequestSignature 实现 Emulator
func (k *Keyring) RequestSignature(ctx context.Context, sighash []byte, key clause.KeyID) (Signature, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if len(sighash) != 32 {
		return nil, &Error{Reason: "sighash must be 32 bytes"}
	}
	k.mu.RLock()
	priv, ok := k.keys[key]
	k.mu.RUnlock()
	if !ok {
		return nil, &Error{Reason: "unknown key " + string(key)}
	}
	return ecdsa.Sign(priv, sighash).Serialize(), nil
}
