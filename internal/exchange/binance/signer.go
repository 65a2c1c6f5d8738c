package binance

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
)

// Signer 对请求参数串签名（REST 查询串与 WebSocket API 参数串共用）。
type Signer interface {
	Sign(payload string) (string, error)
}

// HMACSigner HMAC-SHA256，hex 输出
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner 创建 HMAC 签名器
func NewHMACSigner(secret string) (*HMACSigner, error) {
	if secret == "" {
		return nil, errors.New("binance: api secret is empty")
	}
	return &HMACSigner{secret: []byte(secret)}, nil
}

func (s *HMACSigner) Sign(payload string) (string, error) {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Ed25519Signer Ed25519，base64 输出
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// LoadEd25519Signer 从 PKCS#8 PEM 文件加载私钥
func LoadEd25519Signer(path string) (*Ed25519Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read private key %s", path)
	}
	return ParseEd25519Signer(raw)
}

// ParseEd25519Signer 解析 PKCS#8 PEM 私钥
func ParseEd25519Signer(pemBytes []byte) (*Ed25519Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("binance: no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse PKCS#8 private key")
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.Errorf("binance: expected ed25519 key, got %T", parsed)
	}
	return &Ed25519Signer{key: key}, nil
}

func (s *Ed25519Signer) Sign(payload string) (string, error) {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, []byte(payload))), nil
}
