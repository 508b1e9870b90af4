package session

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"io/fs"
	"sort"
	"strings"
	"time"

	xerrors "StarkSession/internal/errors"
	"StarkSession/deploy/migrations"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 保存会话凭据，适合多主机共享同一批会话的场景。
// 完整凭据以 JSON 负载存储，检索相关字段冗余为独立列。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// initSchema 按文件名顺序执行内嵌的 SQL 迁移。
func (s *MySQLStore) initSchema() error {
	entries, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "枚举迁移文件失败")
	}
	sort.Strings(entries)
	for _, name := range entries {
		script, err := migrations.Files.ReadFile(name)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移文件失败: "+name)
		}
		if _, err := s.db.Exec(string(script)); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行迁移失败: "+name)
		}
	}
	return nil
}

// Save 写入或覆盖同一 key_guid 的凭据。
func (s *MySQLStore) Save(ctx context.Context, creds *Credentials) error {
	if creds == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "凭据不能为空")
	}
	if strings.TrimSpace(creds.KeyGUID) == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "凭据缺少 key_guid")
	}

	payload, err := json.Marshal(creds)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码会话凭据失败")
	}

	const stmt = `INSERT INTO session_credentials
        (key_guid, account_address, chain_id, expires_at, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        account_address = VALUES(account_address),
        chain_id = VALUES(chain_id),
        expires_at = VALUES(expires_at),
        payload = VALUES(payload),
        created_at = VALUES(created_at)`

	_, err = s.db.ExecContext(ctx, stmt,
		normalizeGUID(creds.KeyGUID),
		creds.AccountAddress.String(),
		creds.ChainID.String(),
		creds.ExpiresAt,
		string(payload),
		creds.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话凭据失败")
	}
	return nil
}

// Load 查询指定 key_guid 的凭据，不存在时返回 (nil, nil)。
func (s *MySQLStore) Load(ctx context.Context, keyGUID string) (*Credentials, error) {
	const stmt = `SELECT payload FROM session_credentials WHERE key_guid = ?`

	var payload string
	if err := s.db.QueryRowContext(ctx, stmt, normalizeGUID(keyGUID)).Scan(&payload); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话凭据失败")
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(payload), &creds); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话凭据失败")
	}
	return &creds, nil
}

// List 按创建时间返回分页后的凭据。
func (s *MySQLStore) List(ctx context.Context, opts ...ListOption) ([]*Credentials, error) {
	options := buildListOptions(opts)

	query := `SELECT payload FROM session_credentials`
	args := make([]any, 0, 3)

	if options.ActiveOnly {
		query += " WHERE expires_at > ?"
		args = append(args, nowUnix())
	}

	if options.Order == SortByCreatedAsc {
		query += " ORDER BY created_at ASC, key_guid ASC"
	} else {
		query += " ORDER BY created_at DESC, key_guid DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, options.Limit, options.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话列表失败")
	}
	defer rows.Close()

	sessions := make([]*Credentials, 0, options.Limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话记录失败")
		}
		var creds Credentials
		if err := json.Unmarshal([]byte(payload), &creds); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话记录失败")
		}
		sessions = append(sessions, &creds)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话记录失败")
	}
	return sessions, nil
}

// Clear 删除指定凭据。目标不存在视为已完成。
func (s *MySQLStore) Clear(ctx context.Context, keyGUID string) error {
	const stmt = `DELETE FROM session_credentials WHERE key_guid = ?`
	if _, err := s.db.ExecContext(ctx, stmt, normalizeGUID(keyGUID)); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话凭据失败")
	}
	return nil
}

// ClearAll 删除全部凭据。
func (s *MySQLStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_credentials`); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清空会话凭据失败")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// normalizeGUID 统一存储键形态：小写并去掉 0x 前缀。
func normalizeGUID(guid string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(guid)), "0x")
}

var _ Store = (*MySQLStore)(nil)
