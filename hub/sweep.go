package hub

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPartialMaxAge 超过这个时间没有更新的 .partial 文件视为废弃
const DefaultPartialMaxAge = 24 * time.Hour

// Sweep 删除缓存目录中过期的未完成下载，返回删除的文件数
func (c *Cache) Sweep(maxAge time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(c.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, partialSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// StartSweeper 按 cron 表达式定期清理，调用方负责 Stop
func (c *Cache) StartSweeper(schedule string, maxAge time.Duration) (*cron.Cron, error) {
	sched := cron.New()
	_, err := sched.AddFunc(schedule, func() {
		n, err := c.Sweep(maxAge)
		if err != nil {
			slog.Warn("hub sweep failed", "dir", c.Dir, "error", err)
			return
		}
		if n > 0 {
			slog.Info("hub sweep removed stale downloads", "dir", c.Dir, "count", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	sched.Start()
	return sched, nil
}
