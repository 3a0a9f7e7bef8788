// Package remote 通过 HTTP 调用外部推理服务获取深度
package remote

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/chaos-io/comic-engine/depth"
	nhttp "github.com/chaos-io/comic-engine/util/http"
)

const defaultTimeout = 120 * time.Second

/*
	curl -X POST "$DEPTH_REMOTE_URL" -F "file=@image.png"

{"width": 2, "height": 1, "depth": [0.1, 0.7]}
*/
type predictResp struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Depth  []float64 `json:"depth"`
}

type Model struct {
	url     string
	timeout time.Duration
	cli     nhttp.IClient
}

func New(url string) *Model {
	return &Model{
		url:     url,
		timeout: defaultTimeout,
		cli:     nhttp.NewHTTPClient(),
	}
}

// WithClient 替换底层 HTTP 客户端
func (m *Model) WithClient(cli nhttp.IClient) *Model {
	m.cli = cli
	return m
}

func (m *Model) Predict(ctx context.Context, img *depth.Image) (*depth.Raster, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	_ = writer.Close()

	resp := &predictResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: m.url,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
		Timeout:    m.timeout,
	}
	if err := m.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("%w: remote predict: %w", depth.ErrInference, err)
	}

	if resp.Width <= 0 || resp.Height <= 0 || len(resp.Depth) != resp.Width*resp.Height {
		return nil, fmt.Errorf("%w: remote predict: malformed raster %dx%d with %d values",
			depth.ErrInference, resp.Width, resp.Height, len(resp.Depth))
	}

	slog.Debug("remote depth received", "url", m.url, "width", resp.Width, "height", resp.Height)

	return &depth.Raster{Width: resp.Width, Height: resp.Height, Data: resp.Depth}, nil
}
