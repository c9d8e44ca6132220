package emulator

import (
	"context"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/tyler-smith/go-bip32"
	"golang.org/x/crypto/pbkdf2"

	"github.com/qinglongcn/covenant/template"
)

const (
	// pbkdf2Iterations 口令派生种子的迭代次数
	pbkdf2Iterations = 4096
	// seedLength 种子长度
	seedLength = 64
)

// HD 以 BIP-32 分层确定性密钥实现的本地模拟器。
// 每个模板哈希对应一条非硬化派生路径，因此只持有主公钥的一方也能计算承诺公钥。
type HD struct {
	*Keyring
	master      *bip32.Key
	fingerprint []byte
}

// NewHD 由种子创建模拟器
func NewHD(seed []byte) (*HD, error) {
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, &Error{Reason: "create master key", Err: err}
	}
	return &HD{
		Keyring:     NewKeyring(),
		master:      master,
		fingerprint: btcutil.Hash160(master.PublicKey().Key),
	}, nil
}

// NewHDFromPassphrase 用 PBKDF2 把口令拉伸为种子
func NewHDFromPassphrase(passphrase, salt []byte) (*HD, error) {
	combined := append([]byte("covenant-emulator"), salt...)
	seed := pbkdf2.Key(passphrase, combined, pbkdf2Iterations, seedLength, sha512.New)
	return NewHD(seed)
}

// Fingerprint 主公钥的 Hash160，参与编译缓存键
func (h *HD) Fingerprint() []byte {
	return append([]byte(nil), h.fingerprint...)
}

// derive 按模板哈希的 8 个 4 字节分段逐级派生
func (h *HD) derive(hash chainhash.Hash) (*bip32.Key, error) {
	key := h.master
	for i := 0; i < chainhash.HashSize; i += 4 {
		idx := binary.BigEndian.Uint32(hash[i:i+4]) &^ bip32.FirstHardenedChild
		child, err := key.NewChildKey(idx)
		if err != nil {
			return nil, &Error{Reason: fmt.Sprintf("derive child %d", idx), Err: err}
		}
		key = child
	}
	return key, nil
}

// PublicKeyFor 模板哈希对应的承诺公钥，供策略编译器构造模拟承诺
func (h *HD) PublicKeyFor(hash chainhash.Hash) (*btcec.PublicKey, error) {
	key, err := h.derive(hash)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(key.PublicKey().Key)
}

func (h *HD) privateKeyFor(hash chainhash.Hash) (*btcec.PrivateKey, error) {
	key, err := h.derive(hash)
	if err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(key.Key)
	return priv, nil
}

// RequestCommitment 实现 Emulator：用派生私钥对模板哈希签名
func (h *HD) RequestCommitment(ctx context.Context, hash chainhash.Hash) (Signature, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if hash == (chainhash.Hash{}) {
		return nil, &Error{Reason: "zero template hash"}
	}
	priv, err := h.privateKeyFor(hash)
	if err != nil {
		return nil, err
	}
	return ecdsa.Sign(priv, hash[:]).Serialize(), nil
}

// VerifyCommitment 校验 RequestCommitment 出具的签名
func (h *HD) VerifyCommitment(hash chainhash.Hash, sig Signature) bool {
	pub, err := h.PublicKeyFor(hash)
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(hash[:], pub)
}

// SignSpend 为花费模拟承诺输出的交易生成见证签名（含 SigHashAll 字节）。
// 只有当交易第 idx 个输入的模板哈希等于 hash 时才签名。
func (h *HD) SignSpend(ctx context.Context, tx *wire.MsgTx, idx int, hash chainhash.Hash, witnessScript []byte, value int64, fetcher txscript.PrevOutputFetcher) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	got, err := template.CTVHash(tx, uint32(idx))
	if err != nil {
		return nil, &Error{Reason: "template hash", Err: err}
	}
	if got != hash {
		return nil, &Error{Reason: fmt.Sprintf("transaction does not match committed template %s", hash)}
	}
	priv, err := h.privateKeyFor(hash)
	if err != nil {
		return nil, err
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	sig, err := txscript.RawTxInWitnessSignature(tx, sigHashes, idx, value, witnessScript, txscript.SigHashAll, priv)
	if err != nil {
		return nil, &Error{Reason: "sign spend", Err: err}
	}
	return sig, nil
}

var _ Emulator = (*HD)(nil)
