// Package secretstore 基于 Badger 的加密 KV，用于保存交易所 API 凭证。
// 加密由 Badger 自身完成（value log + key registry），本包只做键空间约定。
package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// 凭证键
const (
	KeyAPIKey    = "exchange/api_key"
	KeyAPISecret = "exchange/api_secret"
)

var errNotOpened = errors.New("secretstore: not opened")

// Store 加密 KV
type Store struct {
	db *badger.DB
}

// OpenOptions 打开参数
type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 字节；为空时不加密（只用于测试）
	ReadOnly      bool
	InMemory      bool
}

// Credentials 交易所 API 凭证
type Credentials struct {
	APIKey    string
	APISecret string
}

// Complete key 和 secret 都存在
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// Open 打开（或创建）密钥库
func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	path := opts.Path
	if opts.InMemory {
		path = ""
	}
	bopts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithInMemory(opts.InMemory).
		WithReadOnly(opts.ReadOnly)
	if len(opts.EncryptionKey) > 0 {
		// 加密模式下 Badger 要求开启 index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("secretstore: open %s: %w", opts.Path, err)
	}
	return &Store{db: db}, nil
}

// Close 关闭
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetString 读取字符串值，found 区分“不存在”与“空值”
func (s *Store) GetString(key string) (val string, found bool, err error) {
	if s == nil || s.db == nil {
		return "", false, errNotOpened
	}
	k, err := normalizeKey(key)
	if err != nil {
		return "", false, err
	}
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(b []byte) error {
			val = string(b)
			return nil
		})
	})
	return val, found, err
}

// SetString 写入字符串值
func (s *Store) SetString(key, val string) error {
	if s == nil || s.db == nil {
		return errNotOpened
	}
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, []byte(val))
	})
}

// LoadCredentials 读取 API 凭证，缺失的字段返回空串
func (s *Store) LoadCredentials() (Credentials, error) {
	var c Credentials
	var err error
	if c.APIKey, _, err = s.GetString(KeyAPIKey); err != nil {
		return Credentials{}, err
	}
	if c.APISecret, _, err = s.GetString(KeyAPISecret); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// SaveCredentials 在同一事务中写入 API 凭证
func (s *Store) SaveCredentials(c Credentials) error {
	if s == nil || s.db == nil {
		return errNotOpened
	}
	if !c.Complete() {
		return errors.New("secretstore: api key and secret are required")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(KeyAPIKey), []byte(c.APIKey)); err != nil {
			return err
		}
		return txn.Set([]byte(KeyAPISecret), []byte(c.APISecret))
	})
}

func normalizeKey(key string) ([]byte, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return nil, errors.New("secretstore: key is empty")
	}
	return []byte(k), nil
}

// ParseKey 解析 32 字节加密密钥（hex，可带 0x，或 base64）。空串返回 nil。
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
	}
	return b, nil
}
