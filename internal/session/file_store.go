package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/lockfile"
)

const (
	sessionFileSuffix = ".session.json"
	storeLockName     = "sessions.lock"
)

// FileStore 是默认的会话存储：每个密钥身份一个 JSON 文件，写入走
// 临时文件加重命名，读写期间持有目录锁。
type FileStore struct {
	dir string
}

// NewFileStore 构造指向 dir 的文件存储，目录不存在时创建。
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create session directory")
	}
	return &FileStore{dir: dir}, nil
}

// Save 原子持久化凭据。崩溃在重命名之前只会留下临时文件，Load 不会
// 读到半写状态。
func (s *FileStore) Save(_ context.Context, creds *Credentials) error {
	if creds == nil || strings.TrimSpace(creds.KeyGUID) == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "session credentials have no key identity")
	}

	lock, err := lockfile.Acquire(filepath.Join(s.dir, storeLockName))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "lock session store")
	}
	defer lock.Release()

	raw, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode session credentials")
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "create session temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "restrict session permissions")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "write session credentials")
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "flush session credentials")
	}
	if err := os.Rename(tmpPath, s.path(creds.KeyGUID)); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "persist session credentials")
	}
	return nil
}

// Load 读取 keyGUID 对应的凭据，文件不存在返回 (nil, nil)。
func (s *FileStore) Load(_ context.Context, keyGUID string) (*Credentials, error) {
	lock, err := lockfile.Acquire(filepath.Join(s.dir, storeLockName))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "lock session store")
	}
	defer lock.Release()

	raw, err := os.ReadFile(s.path(keyGUID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read session credentials")
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "parse session credentials")
	}
	return &creds, nil
}

// List 返回分页后的会话集合。
func (s *FileStore) List(_ context.Context, opts ...ListOption) ([]*Credentials, error) {
	options := buildListOptions(opts)

	lock, err := lockfile.Acquire(filepath.Join(s.dir, storeLockName))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "lock session store")
	}
	defer lock.Release()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan session directory")
	}

	all := make([]*Credentials, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sessionFileSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read session file "+entry.Name())
		}
		var creds Credentials
		if err := json.Unmarshal(raw, &creds); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "parse session file "+entry.Name())
		}
		all = append(all, &creds)
	}

	return paginate(all, options), nil
}

// Clear 删除指定会话，不存在时是无操作。
func (s *FileStore) Clear(_ context.Context, keyGUID string) error {
	lock, err := lockfile.Acquire(filepath.Join(s.dir, storeLockName))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "lock session store")
	}
	defer lock.Release()

	if err := os.Remove(s.path(keyGUID)); err != nil && !os.IsNotExist(err) {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "remove session credentials")
	}
	return nil
}

// ClearAll 删除全部会话文件。
func (s *FileStore) ClearAll(_ context.Context) error {
	lock, err := lockfile.Acquire(filepath.Join(s.dir, storeLockName))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "lock session store")
	}
	defer lock.Release()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan session directory")
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sessionFileSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "remove session file "+entry.Name())
		}
	}
	return nil
}

// Close 满足 Store 接口，文件后端无资源可释放。
func (s *FileStore) Close() error {
	return nil
}

// path 将密钥身份映射为稳定的文件名。GUID 本身是十六进制字符串，但为
// 防御异常输入仍做一次十六进制转写。
func (s *FileStore) path(keyGUID string) string {
	name := strings.ToLower(strings.TrimPrefix(keyGUID, "0x"))
	if !isHex(name) {
		name = hex.EncodeToString([]byte(keyGUID))
	}
	return filepath.Join(s.dir, name+sessionFileSuffix)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// nowUnix 可在测试中替换以固定时间。
var nowUnix = func() int64 { return time.Now().Unix() }

func paginate(all []*Credentials, options ListOptions) []*Credentials {
	if options.ActiveOnly {
		filtered := all[:0]
		now := nowUnix()
		for _, creds := range all {
			if creds.ExpiresAt > now {
				filtered = append(filtered, creds)
			}
		}
		all = filtered
	}

	sort.Slice(all, func(i, j int) bool {
		if options.Order == SortByCreatedAsc {
			return all[i].CreatedAt < all[j].CreatedAt
		}
		return all[i].CreatedAt > all[j].CreatedAt
	})

	offset := options.Offset()
	if offset >= len(all) {
		return nil
	}
	end := offset + options.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
