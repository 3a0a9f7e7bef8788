package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/comic-engine/depth"
	"github.com/chaos-io/comic-engine/stl"
)

const (
	formFile = "file"

	headerDepthWidth  = "X-Depth-Width"
	headerDepthHeight = "X-Depth-Height"

	detailInternal     = "Internal Server Error"
	detailMissingFile  = "file field is required"
	detailTooLarge     = "Upload too large"
	detailInvalidImage = "Invalid image data"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleDepth(c *gin.Context) {
	m, ok := s.estimate(c)
	if !ok {
		return
	}

	data, err := depth.EncodePNG(m)
	if err != nil {
		s.internalError(c, "encode depth png", err)
		return
	}

	setDimensions(c, m)
	c.Data(http.StatusOK, "image/png", data)
}

func (s *Server) handleDepthSTL(c *gin.Context) {
	opts, err := stlOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	m, ok := s.estimate(c)
	if !ok {
		return
	}

	buf := &bytes.Buffer{}
	if err := stl.Write(buf, m, opts); err != nil {
		if errors.Is(err, stl.ErrTooSmall) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		s.internalError(c, "write stl", err)
		return
	}

	setDimensions(c, m)
	c.Header("Content-Disposition", `attachment; filename="depth.stl"`)
	c.Data(http.StatusOK, "model/stl", buf.Bytes())
}

// estimate 读取上传文件并跑模型，失败时已写好响应
func (s *Server) estimate(c *gin.Context) (*depth.Map, bool) {
	data, err := readUpload(c)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": detailTooLarge})
			return nil, false
		}
		slog.Debug("read upload failed", "error", err, "request_id", c.GetString(ctxRequestID))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": detailMissingFile})
		return nil, false
	}

	img, err := depth.DecodeUploadLimit(data, s.opts.MaxPixels)
	if err != nil {
		slog.Debug("decode upload failed", "error", err, "request_id", c.GetString(ctxRequestID))
		c.JSON(http.StatusBadRequest, gin.H{"detail": detailInvalidImage})
		return nil, false
	}

	m, err := depth.Estimate(c.Request.Context(), img, s.model)
	if err != nil {
		s.internalError(c, "estimate depth", err)
		return nil, false
	}
	return m, true
}

func readUpload(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile(formFile)
	if err != nil {
		return nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return io.ReadAll(f)
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	slog.Error(msg, "error", err, "request_id", c.GetString(ctxRequestID))
	c.JSON(http.StatusInternalServerError, gin.H{"detail": detailInternal})
}

func setDimensions(c *gin.Context, m *depth.Map) {
	c.Header(headerDepthWidth, strconv.Itoa(m.Width))
	c.Header(headerDepthHeight, strconv.Itoa(m.Height))
}

// stlOptions 解析 width、thickness、base、step 查询参数
func stlOptions(c *gin.Context) (stl.Options, error) {
	opts := stl.DefaultOptions()
	floats := []struct {
		name string
		dst  *float64
	}{
		{"width", &opts.Width},
		{"thickness", &opts.Thickness},
		{"base", &opts.Base},
	}
	for _, f := range floats {
		v, ok := c.GetQuery(f.name)
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid %s %q", f.name, v)
		}
		*f.dst = n
	}
	if v, ok := c.GetQuery("step"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("invalid step %q", v)
		}
		opts.Step = n
	}
	return opts, opts.Validate()
}
