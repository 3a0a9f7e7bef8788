package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/comic-engine/depth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// rowModel 深度等于行号
var rowModel = depth.ModelFunc(func(_ context.Context, img *depth.Image) (*depth.Raster, error) {
	r := depth.NewRaster(img.Width(), img.Height())
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			r.Set(x, y, float64(y))
		}
	}
	return r, nil
})

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, target, field string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, "upload.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func detail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Detail
}

func TestHealth(t *testing.T) {
	t.Parallel()

	w := serve(New(rowModel, DefaultOptions()), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDepth(t *testing.T) {
	t.Parallel()

	s := New(rowModel, DefaultOptions())
	w := serve(s, uploadRequest(t, "/api/depth", "file", pngBytes(t, 80, 60)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "80", w.Header().Get("X-Depth-Width"))
	assert.Equal(t, "60", w.Header().Get("X-Depth-Height"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	gray, ok := img.(*image.Gray)
	require.True(t, ok, "got %T", img)
	assert.Equal(t, image.Rect(0, 0, 80, 60), gray.Bounds())
	assert.Equal(t, uint8(0), gray.GrayAt(10, 0).Y)
	assert.Equal(t, uint8(255), gray.GrayAt(10, 59).Y)
	assert.LessOrEqual(t, gray.GrayAt(0, 20).Y, gray.GrayAt(0, 21).Y)
}

func TestDepth_ConstantModel(t *testing.T) {
	t.Parallel()

	flat := depth.ModelFunc(func(_ context.Context, img *depth.Image) (*depth.Raster, error) {
		r := depth.NewRaster(img.Width(), img.Height())
		for i := range r.Data {
			r.Data[i] = 3.5
		}
		return r, nil
	})

	w := serve(New(flat, DefaultOptions()), uploadRequest(t, "/api/depth", "file", pngBytes(t, 5, 4)))
	require.Equal(t, http.StatusOK, w.Code)

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	gray := img.(*image.Gray)
	for _, v := range gray.Pix {
		assert.Zero(t, v)
	}
}

func TestDepth_Luminance(t *testing.T) {
	t.Parallel()

	w := serve(New(depth.NewLuminance(), DefaultOptions()), uploadRequest(t, "/api/depth", "file", pngBytes(t, 33, 17)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "33", w.Header().Get("X-Depth-Width"))
	assert.Equal(t, "17", w.Header().Get("X-Depth-Height"))
}

func TestDepth_Errors(t *testing.T) {
	t.Parallel()

	boom := depth.ModelFunc(func(context.Context, *depth.Image) (*depth.Raster, error) {
		return nil, errors.New("cuda out of memory")
	})
	wrongShape := depth.ModelFunc(func(context.Context, *depth.Image) (*depth.Raster, error) {
		return depth.NewRaster(1, 1), nil
	})
	panics := depth.ModelFunc(func(context.Context, *depth.Image) (*depth.Raster, error) {
		panic("nil session")
	})

	tests := []struct {
		name       string
		model      depth.Model
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantDetail string
	}{
		{
			name:  "invalid image",
			model: rowModel,
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "/api/depth", "file", []byte("definitely not an image"))
			},
			wantStatus: http.StatusBadRequest,
			wantDetail: "Invalid image data",
		},
		{
			name:  "empty file",
			model: rowModel,
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "/api/depth", "file", nil)
			},
			wantStatus: http.StatusBadRequest,
			wantDetail: "Invalid image data",
		},
		{
			name:  "missing field",
			model: rowModel,
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "/api/depth", "image", pngBytes(t, 4, 4))
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "file field is required",
		},
		{
			name:  "not multipart",
			model: rowModel,
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/depth", strings.NewReader("{}"))
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "file field is required",
		},
		{
			name:  "model failure",
			model: boom,
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "/api/depth", "file", pngBytes(t, 4, 4))
			},
			wantStatus: http.StatusInternalServerError,
			wantDetail: "Internal Server Error",
		},
		{
			name:  "shape mismatch",
			model: wrongShape,
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "/api/depth", "file", pngBytes(t, 4, 4))
			},
			wantStatus: http.StatusInternalServerError,
			wantDetail: "Internal Server Error",
		},
		{
			name:  "panic",
			model: panics,
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "/api/depth", "file", pngBytes(t, 4, 4))
			},
			wantStatus: http.StatusInternalServerError,
			wantDetail: "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := serve(New(tt.model, DefaultOptions()), tt.req(t))
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantDetail, detail(t, w))
			assert.Empty(t, w.Header().Get("X-Depth-Width"))
		})
	}
}

func TestDepth_TooLarge(t *testing.T) {
	t.Parallel()

	s := New(rowModel, Options{MaxUploadBytes: 1024})
	w := serve(s, uploadRequest(t, "/api/depth", "file", bytes.Repeat([]byte{0xAB}, 8192)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "Upload too large", detail(t, w))
}

func TestDepth_TooManyPixels(t *testing.T) {
	t.Parallel()

	s := New(rowModel, Options{MaxPixels: 80*60 - 1})
	w := serve(s, uploadRequest(t, "/api/depth", "file", pngBytes(t, 80, 60)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid image data", detail(t, w))

	s = New(rowModel, Options{MaxPixels: 80 * 60})
	w = serve(s, uploadRequest(t, "/api/depth", "file", pngBytes(t, 80, 60)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	t.Parallel()

	s := New(rowModel, DefaultOptions())

	req := httptest.NewRequest(http.MethodOptions, "/api/depth", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	w := serve(s, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "content-type", w.Header().Get("Access-Control-Allow-Headers"))

	w = serve(s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Depth-Width")
}

func TestCORS_NoCredentials(t *testing.T) {
	t.Parallel()

	s := New(rowModel, DefaultOptions())

	for _, origin := range []string{"https://evil.example", "http://localhost:3000"} {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", origin)
		w := serve(s, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"), origin)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"), origin)
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	s := New(rowModel, DefaultOptions())

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 27)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = serve(s, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestDepthSTL(t *testing.T) {
	t.Parallel()

	s := New(rowModel, DefaultOptions())
	w := serve(s, uploadRequest(t, "/api/depth/stl?width=20&thickness=3&base=1&step=2", "file", pngBytes(t, 10, 8)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "model/stl", w.Header().Get("Content-Type"))
	assert.Equal(t, "10", w.Header().Get("X-Depth-Width"))
	assert.Equal(t, "8", w.Header().Get("X-Depth-Height"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "depth.stl")

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "solid relief_model"))
	assert.Contains(t, body, "-1.000000")
	// 5x4 个采样点
	assert.Equal(t, 2*4*3*2+2*14, strings.Count(body, "facet normal"))
}

func TestDepthSTL_BadQuery(t *testing.T) {
	t.Parallel()

	tests := []string{
		"width=abc",
		"width=0",
		"thickness=-1",
		"base=x",
		"step=1.5",
		"step=-2",
	}

	s := New(rowModel, DefaultOptions())
	for _, q := range tests {
		w := serve(s, uploadRequest(t, "/api/depth/stl?"+q, "file", pngBytes(t, 10, 8)))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.NotEmpty(t, detail(t, w), q)
	}
}

func TestDepthSTL_TooSmall(t *testing.T) {
	t.Parallel()

	w := serve(New(rowModel, DefaultOptions()), uploadRequest(t, "/api/depth/stl", "file", pngBytes(t, 1, 8)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRun_Shutdown(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(rowModel, DefaultOptions()).Run(ctx, "127.0.0.1:0")
	}()

	cancel()
	assert.NoError(t, <-done)
}
