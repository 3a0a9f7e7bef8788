package util

import (
	"context"
	"fmt"
	"os"
	"strings"

	nhttp "github.com/chaos-io/comic-engine/util/http"
)

// ReadSource 读取图片原始字节，src 可以是本地路径或 http(s) 链接
func ReadSource(ctx context.Context, src string) ([]byte, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return DownloadBytes(ctx, nhttp.NewHTTPClient(), src)
	}
	return os.ReadFile(src)
}

// DownloadBytes 下载 url 的内容
func DownloadBytes(ctx context.Context, cli nhttp.IClient, url string) ([]byte, error) {
	var data []byte
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: url,
		Method:     "GET",
		Response:   &data,
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return data, nil
}
