// Package instancelock 进程级单实例锁：同一账户/交易对只允许一个做市进程。
package instancelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLocked 锁已被其他进程持有
var ErrLocked = errors.New("instance lock held by another process")

// Lock 已持有的锁文件
type Lock struct {
	path string
	f    *os.File
}

// Acquire 以非阻塞方式获取 path 上的独占锁，并写入当前 pid。
func Acquire(path string) (*Lock, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("instancelock: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := tryLock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%w: %s (pid %s)", ErrLocked, path, readPID(path))
		}
		return nil, err
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Lock{path: path, f: f}, nil
}

// Path 锁文件路径
func (l *Lock) Path() string { return l.path }

// Release 释放锁。锁文件保留，下次 Acquire 复用。
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

func readPID(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return "?"
	}
	if s := strings.TrimSpace(string(b)); s != "" {
		return s
	}
	return "?"
}
