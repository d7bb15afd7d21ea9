package metadb

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// MemoryPath 作为特殊路径，表示仅存活于进程内的 SQLite 数据库，主要供测试使用。
const MemoryPath = ":memory:"

const schemaSQL = `
CREATE TABLE urls (
	url TEXT NOT NULL UNIQUE,
	path TEXT NOT NULL,
	last_modified TEXT,
	etag TEXT
);
`

// ErrNotFound 表示该 URL 尚未被缓存。
var ErrNotFound = errors.New("url not found in cache")

// ErrCorruptRecord 表示已存储的行无法按预期类型解码，本次查询不可用。
var ErrCorruptRecord = errors.New("corrupt cache record")

// Record 描述数据库中关于单个 URL 的全部信息。
type Record struct {
	// Path 指向缓存正文文件，相对于缓存根目录，始终使用斜杠分隔。
	Path string
	// LastModified 保存响应头原文，空字符串表示缺失。不做日期解析，
	// 回传给服务器时必须逐字节一致。
	LastModified string
	// ETag 同样逐字保存，空字符串表示缺失。
	ETag string
}

// DB 封装单表的缓存元数据库。一个 DB 实例独占一条连接；
// 多个进程共享同一文件时依赖 SQLite 自身的文件锁互斥。
type DB struct {
	path string
	conn *sql.DB
}

// Open 打开（必要时初始化）位于 path 的元数据库。
// 传入 MemoryPath 时使用进程内数据库。持久化路径会先做规范化，
// 以便把指向同一文件的不同写法识别为同一个库；规范化要求父目录存在，
// 文件本身可以尚未创建。
func Open(path string) (*DB, error) {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}

	conn, err := sql.Open("sqlite", canonical)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Keep exactly one underlying connection. For MemoryPath a second
	// connection would silently be a second, empty database; for files it
	// keeps transaction and query ordering predictable.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{path: canonical, conn: conn}

	var objects int
	if err := conn.QueryRow("SELECT COUNT(*) FROM sqlite_master").Scan(&objects); err != nil {
		conn.Close()
		return nil, fmt.Errorf("inspect database schema: %w", err)
	}
	if objects == 0 {
		logrus.WithField("path", canonical).Debug("empty metadata database, loading schema")
		if _, err := conn.Exec(schemaSQL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("create database schema: %w", err)
		}
	}

	return db, nil
}

// Path 返回规范化后的数据库路径。两个 Path 相同的 DB 指向同一份存储。
func (db *DB) Path() string {
	return db.path
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Get 返回数据库中关于 url 的记录；查询前会去掉 fragment。
// 未命中返回 ErrNotFound；path 列类型异常返回 ErrCorruptRecord；
// 校验器列类型异常仅记日志并按缺失处理，因为记录的其余部分仍然可用。
func (db *DB) Get(u *url.URL) (Record, error) {
	key := Key(u)

	row := db.conn.QueryRow(
		"SELECT path, last_modified, etag FROM urls WHERE url = ?", key,
	)

	var pathCol, lastModifiedCol, etagCol any
	if err := row.Scan(&pathCol, &lastModifiedCol, &etagCol); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Record{}, fmt.Errorf("query url %s: %w", key, err)
	}

	path, ok := pathCol.(string)
	if !ok {
		return Record{}, fmt.Errorf("%w: path column for %s has type %T", ErrCorruptRecord, key, pathCol)
	}

	return Record{
		Path:         path,
		LastModified: validatorColumn("last_modified", key, lastModifiedCol),
		ETag:         validatorColumn("etag", key, etagCol),
	}, nil
}

// Set 在一个新事务里 upsert url 对应的记录并返回事务句柄。
// 调用方必须最终调用 Commit 或 Close；Close 未经 Commit 时回滚，
// 因此调用方可以放心地 defer Close 再在正文写盘成功后 Commit。
func (db *DB) Set(u *url.URL, rec Record) (*Tx, error) {
	key := Key(u)

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	_, err = tx.Exec(
		"INSERT OR REPLACE INTO urls (url, path, last_modified, etag) VALUES (?, ?, ?, ?)",
		key, rec.Path, nullable(rec.LastModified), nullable(rec.ETag),
	)
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			logrus.WithError(rollbackErr).Debug("rollback after failed upsert")
		}
		return nil, fmt.Errorf("upsert url %s: %w", key, err)
	}

	return &Tx{tx: tx}, nil
}

// Key 返回 u 去除 fragment 后的存储键，其余部分逐字保留。
func Key(u *url.URL) string {
	stripped := *u
	stripped.Fragment = ""
	stripped.RawFragment = ""
	return stripped.String()
}

func validatorColumn(column, key string, value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		logrus.WithFields(logrus.Fields{
			"column": column,
			"url":    key,
			"type":   fmt.Sprintf("%T", value),
		}).Warn("validator column has unexpected type, treating as absent")
		return ""
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// canonicalizePath resolves the parent directory (which must exist) and
// re-joins the file name, so equivalent spellings of the same location
// compare equal. MemoryPath is used as-is.
func canonicalizePath(path string) (string, error) {
	if path == MemoryPath {
		return path, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", err
	}

	return filepath.Join(parent, filepath.Base(abs)), nil
}
