package staticcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/static-cache/static-cache/internal/content"
	"github.com/static-cache/static-cache/internal/metadb"
	"github.com/static-cache/static-cache/transport"
)

const (
	databaseName   = "cache.db"
	contentDirName = "content"
)

// Cache 负责 orchestrate “元数据查找 → 条件回源 → 落盘提交” 的全流程。
// 一个实例独占一条元数据库连接；多个实例（线程或进程）可共享同一缓存根目录，
// 正确性由随机文件名与数据库事务保证，见包文档。
type Cache struct {
	root   string
	db     *metadb.DB
	client transport.Client
	alloc  *content.Allocator
	logger *logrus.Logger
}

// New 以 root 为缓存根目录构建 Cache，目录不存在时递归创建。
// client 承担全部网络访问，通常是 transport.NewUpstreamClient 的返回值，
// 测试可注入任何 transport.Client。logger 为 nil 时使用 logrus 全局实例。
//
// 构造失败（目录不可写、元数据库打不开或 schema 损坏）时返回错误；
// 缓存目录里只有可再生数据，遇到这类错误可以直接清空目录重来。
func New(root string, client transport.Client, logger *logrus.Logger) (*Cache, error) {
	if client == nil {
		return nil, errors.New("transport client required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	db, err := metadb.Open(filepath.Join(abs, databaseName))
	if err != nil {
		return nil, fmt.Errorf("open cache metadata: %w", err)
	}

	return &Cache{
		root:   abs,
		db:     db,
		client: client,
		alloc:  content.NewAllocator(nil),
		logger: logger,
	}, nil
}

// Close releases the metadata database connection. Open file handles
// returned by Get stay valid.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get 返回 rawURL 对应的内容文件句柄（已打开、供读取）。URL 的 fragment
// 在查找与存储前一律去除。
//
// 未缓存过的 URL 直接下载并落盘，此时网络错误或 400-599 状态是硬失败。
// 已缓存的 URL 先发条件 GET：304 直接复用本地数据；2xx/3xx 视为新内容，
// 下载并替换记录；网络错误或错误状态只记一条警告，静默回退到本地数据——
// 校验新鲜度是尽力而为，断网不应让既有缓存不可用。
//
// 网络或磁盘 I/O 出错后实例仍可继续使用；元数据库层面的错误则建议丢弃
// 实例并重建，连接内部状态不保证一致。
func (c *Cache) Get(ctx context.Context, rawURL string) (*os.File, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	u.Fragment = ""
	u.RawFragment = ""

	rec, err := c.db.Get(u)
	if err != nil {
		if !errors.Is(err, metadb.ErrNotFound) {
			// Corrupt or unreadable row. Treat it as a miss so the URL can
			// be re-downloaded, but say so.
			c.logger.WithError(err).WithFields(logrus.Fields{
				"action": "lookup",
				"url":    u.String(),
			}).Warn("cache lookup failed, fetching fresh copy")
		}
		resp, err := c.fetch(ctx, u, metadb.Record{})
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return c.persist(u, resp)
	}

	resp, err := c.fetch(ctx, u, rec)
	if err != nil {
		// Best-effort revalidation: serve what we have.
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action": "revalidate",
			"url":    u.String(),
		}).Warn("could not validate cached response, serving local copy")
		return c.openContent(rec)
	}

	if resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		return c.openContent(rec)
	}

	defer resp.Body.Close()
	return c.persist(u, resp)
}

// fetch 发出一次 GET。rec 中存在的校验器会原样附到条件头上。
// 传输层错误与 400-599 状态统一归为一个错误返回，由调用方决定是否回退。
func (c *Cache) fetch(ctx context.Context, u *url.URL, rec metadb.Record) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if rec.LastModified != "" {
		req.Header.Set("If-Modified-Since", rec.LastModified)
	}
	if rec.ETag != "" {
		req.Header.Set("If-None-Match", rec.ETag)
	}

	c.logger.WithFields(logrus.Fields{
		"action":      "fetch",
		"url":         u.String(),
		"conditional": rec.LastModified != "" || rec.ETag != "",
	}).Debug("sending request")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if err := transport.CheckStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// persist 把一条新响应写进缓存：先在 content/ 下分配随机文件并开启
// 元数据事务，正文完整落盘后才提交；中途任何失败都让事务回滚，
// 旧记录（或记录的缺失）保持原样。
func (c *Cache) persist(u *url.URL, resp *http.Response) (*os.File, error) {
	contentDir := filepath.Join(c.root, contentDirName)
	if err := os.MkdirAll(contentDir, 0o755); err != nil {
		return nil, fmt.Errorf("create content directory: %w", err)
	}

	handle, path, err := c.alloc.Allocate(contentDir)
	if err != nil {
		return nil, fmt.Errorf("allocate content file: %w", err)
	}

	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("relativize content path: %w", err)
	}

	rec := metadb.Record{
		Path:         filepath.ToSlash(rel),
		LastModified: c.headerValidator(resp.Header, "Last-Modified"),
		ETag:         c.headerValidator(resp.Header, "ETag"),
	}

	tx, err := c.db.Set(u, rec)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("record response for %s: %w", u, err)
	}
	defer tx.Close()

	written, err := io.Copy(handle, resp.Body)
	closeErr := handle.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", u, err)
	}

	c.logger.WithFields(logrus.Fields{
		"action": "download",
		"url":    u.String(),
		"bytes":  written,
	}).Debug("stored response body")

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit metadata for %s: %w", u, err)
	}

	return os.Open(path)
}

// openContent opens the body file a metadata row points at. A missing file
// is a storage inconsistency and is reported, not masked by a re-download.
func (c *Cache) openContent(rec metadb.Record) (*os.File, error) {
	f, err := os.Open(filepath.Join(c.root, filepath.FromSlash(rec.Path)))
	if err != nil {
		return nil, fmt.Errorf("open cached content: %w", err)
	}
	return f, nil
}

// headerValidator 取响应头原文作为校验器。无法按文本解读的值记警告并按
// 缺失处理，不让单个坏头拖垮整次下载。
func (c *Cache) headerValidator(h http.Header, key string) string {
	value := h.Get(key)
	if value == "" {
		return ""
	}
	if !utf8.ValidString(value) {
		c.logger.WithFields(logrus.Fields{
			"action": "store",
			"header": key,
		}).Warn("header contained undecodable value, storing without it")
		return ""
	}
	return value
}
