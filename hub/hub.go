// Package hub 按 HuggingFace 的 resolve 地址下载模型文件并缓存在本地目录。
//
// 缓存布局: <dir>/models--<org>--<name>/snapshots/<revision>/<file>
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultEndpoint = "https://huggingface.co"
	DefaultRevision = "main"

	partialSuffix = ".partial"
	bufferSize    = 32 * 1024
	// 下载进度日志间隔
	progressEvery = 2 * time.Second
)

// ProgressFunc 报告下载进度，total 未知时为 -1
type ProgressFunc func(downloaded, total int64)

type Cache struct {
	Dir      string
	Endpoint string
	Revision string
	// Token 访问私有仓库时使用
	Token    string
	Progress ProgressFunc

	// client 为 nil 时使用 http.DefaultClient，零值 Cache 也可用
	client *http.Client
	mu     sync.Mutex
}

func NewCache(dir, endpoint string) *Cache {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Cache{
		Dir:      dir,
		Endpoint: strings.TrimRight(endpoint, "/"),
		Revision: DefaultRevision,
		client:   &http.Client{Timeout: 0}, // 大文件不设整体超时，靠 ctx 控制
	}
}

// Path 返回文件在缓存中的位置，不检查是否存在
func (c *Cache) Path(repoID, file string) string {
	return filepath.Join(c.Dir, repoDir(repoID), "snapshots", c.revision(), filepath.FromSlash(file))
}

// URL 返回文件的下载地址
func (c *Cache) URL(repoID, file string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint(), repoID, url.PathEscape(c.revision()), file)
}

// Resolve 返回本地文件路径，缓存未命中时下载。下载中断后再次调用会断点续传
func (c *Cache) Resolve(ctx context.Context, repoID, file string) (string, error) {
	if err := validate(repoID, file); err != nil {
		return "", err
	}

	path := c.Path(repoID, file)
	if ok, err := isCached(path); err != nil || ok {
		return path, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 等锁期间可能已被其他调用下载完成
	if ok, err := isCached(path); err != nil || ok {
		return path, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	src := c.URL(repoID, file)
	slog.Info("downloading model file", "url", src, "path", path)
	partial := path + partialSuffix
	if err := c.download(ctx, partial, src); err != nil {
		return "", fmt.Errorf("download %s: %w", src, err)
	}
	if err := os.Rename(partial, path); err != nil {
		return "", fmt.Errorf("finalize %s: %w", path, err)
	}
	return path, nil
}

// download 把 src 写入 dest，dest 已有部分内容时用 Range 续传
func (c *Cache) download(ctx context.Context, dest, src string) error {
	var existing int64
	if stat, err := os.Stat(dest); err == nil {
		existing = stat.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if existing > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusOK:
		existing = 0
		flags |= os.O_TRUNC
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusRequestedRangeNotSatisfiable:
		// 本地大小与远端一致才算下载完成，否则删掉重新下载
		if size, ok := rangeTotal(resp.Header.Get("Content-Range")); ok && size == existing {
			return nil
		}
		slog.Warn("partial file does not match remote size, restarting download",
			"path", dest, "local", existing, "content_range", resp.Header.Get("Content-Range"))
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("remove partial file: %w", err)
		}
		return c.download(ctx, dest, src)
	default:
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = resp.ContentLength + existing
	}

	out, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer func() {
		_ = out.Close()
	}()

	downloaded := existing
	buf := make([]byte, bufferSize)
	last := time.Now()
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write output file: %w", werr)
			}
			downloaded += int64(n)
			if c.Progress != nil && time.Since(last) >= progressEvery {
				c.Progress(downloaded, total)
				last = time.Now()
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read response: %w", rerr)
		}
	}

	if total >= 0 && downloaded != total {
		return fmt.Errorf("short download: got %d of %d bytes", downloaded, total)
	}
	if c.Progress != nil {
		c.Progress(downloaded, total)
	}
	return out.Sync()
}

func (c *Cache) httpClient() *http.Client {
	if c.client == nil {
		return http.DefaultClient
	}
	return c.client
}

func (c *Cache) endpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return strings.TrimRight(c.Endpoint, "/")
}

// rangeTotal 解析 416 响应的 "bytes */N"
func rangeTotal(contentRange string) (int64, bool) {
	v, ok := strings.CutPrefix(contentRange, "bytes */")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (c *Cache) revision() string {
	if c.Revision == "" {
		return DefaultRevision
	}
	return c.Revision
}

func repoDir(repoID string) string {
	return "models--" + strings.ReplaceAll(repoID, "/", "--")
}

func validate(repoID, file string) error {
	if repoID == "" || file == "" {
		return errors.New("repo id and file are required")
	}
	for _, part := range append(strings.Split(repoID, "/"), strings.Split(file, "/")...) {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid model path %s/%s", repoID, file)
		}
	}
	return nil
}

func isCached(path string) (bool, error) {
	stat, err := os.Stat(path)
	switch {
	case err == nil:
		return stat.Mode().IsRegular() && stat.Size() > 0, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}
