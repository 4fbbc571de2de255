package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// CompressConfig tunes Compress.
type CompressConfig struct {
	// Quality is the brotli level, 0 to 11.
	Quality int
	// MinLength is the body size at which compression starts. Smaller
	// bodies go out untouched.
	MinLength int
	// Skipper leaves matching requests alone.
	Skipper func(c *gin.Context) bool
}

var DefaultCompressConfig = CompressConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
}

type compressState int

const (
	undecided compressState = iota
	compressing
	passthrough
)

// brotliWriter holds the body back until MinLength bytes arrived, then looks
// at the response headers once to decide between brotli and plain bytes.
type brotliWriter struct {
	gin.ResponseWriter
	pool      *sync.Pool
	enc       *brotli.Writer
	buf       []byte
	minLength int
	state     compressState
}

func (bw *brotliWriter) Write(data []byte) (int, error) {
	switch bw.state {
	case compressing:
		return bw.enc.Write(data)
	case passthrough:
		return bw.ResponseWriter.Write(data)
	}

	bw.buf = append(bw.buf, data...)
	if len(bw.buf) < bw.minLength {
		return len(data), nil
	}
	if err := bw.decide(); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (bw *brotliWriter) WriteString(s string) (int, error) {
	return bw.Write([]byte(s))
}

// decide picks the encoding and drains the buffer through it.
func (bw *brotliWriter) decide() error {
	h := bw.ResponseWriter.Header()
	if h.Get("Content-Encoding") != "" ||
		bw.ResponseWriter.Status() == http.StatusPartialContent ||
		precompressed(h.Get("Content-Type")) {
		return bw.drain(passthrough)
	}

	h.Set("Content-Encoding", "br")
	h.Del("Content-Length")
	bw.enc = bw.pool.Get().(*brotli.Writer)
	bw.enc.Reset(bw.ResponseWriter)
	return bw.drain(compressing)
}

func (bw *brotliWriter) drain(state compressState) error {
	bw.state = state
	buf := bw.buf
	bw.buf = nil
	if len(buf) == 0 {
		return nil
	}
	var err error
	if state == compressing {
		_, err = bw.enc.Write(buf)
	} else {
		_, err = bw.ResponseWriter.Write(buf)
	}
	return err
}

// Flush is called by streaming responses. Anything not yet compressed is
// sent plain from here on.
func (bw *brotliWriter) Flush() {
	switch bw.state {
	case undecided:
		_ = bw.drain(passthrough)
	case compressing:
		_ = bw.enc.Flush()
	}
	bw.ResponseWriter.Flush()
}

// finish runs after the handler: short bodies go out plain and the encoder
// returns to the pool.
func (bw *brotliWriter) finish() error {
	switch bw.state {
	case undecided:
		return bw.drain(passthrough)
	case compressing:
		err := bw.enc.Close()
		bw.enc.Reset(nil)
		bw.pool.Put(bw.enc)
		bw.enc = nil
		return err
	}
	return nil
}

// Compress brotli-encodes JSON and HTML responses for clients that accept
// it. Screenshots and other already compressed media pass through.
func Compress(cfg CompressConfig) gin.HandlerFunc {
	if cfg.Quality < brotli.BestSpeed || cfg.Quality > brotli.BestCompression {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultCompressConfig.MinLength
	}
	pool := &sync.Pool{New: func() any { return brotli.NewWriterLevel(nil, cfg.Quality) }}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodHead || streaming(c) ||
			(cfg.Skipper != nil && cfg.Skipper(c)) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		if !acceptsBrotli(c.GetHeader("Accept-Encoding")) {
			c.Next()
			return
		}

		bw := &brotliWriter{
			ResponseWriter: c.Writer,
			pool:           pool,
			minLength:      cfg.MinLength,
		}
		c.Writer = bw
		defer func() {
			if err := bw.finish(); err != nil {
				_ = c.Error(err)
			}
		}()
		c.Next()
	}
}

// streaming reports requests whose responses must not be buffered: SSE and
// the WebSocket handshake of the pipeline event feed.
func streaming(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream") ||
		strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

// precompressed reports media types brotli cannot shrink further.
func precompressed(contentType string) bool {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/svg"):
		return false
	case strings.HasPrefix(ct, "image/"),
		strings.HasPrefix(ct, "video/"),
		strings.HasPrefix(ct, "audio/"),
		strings.HasPrefix(ct, "application/zip"),
		strings.HasPrefix(ct, "application/gzip"):
		return true
	}
	return false
}

// acceptsBrotli parses Accept-Encoding, honouring "br;q=0" as a refusal.
func acceptsBrotli(header string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(part, ";")
		if !strings.EqualFold(strings.TrimSpace(name), "br") {
			continue
		}
		q, ok := strings.CutPrefix(strings.TrimSpace(params), "q=")
		if !ok {
			return true
		}
		f, err := strconv.ParseFloat(q, 64)
		return err == nil && f > 0
	}
	return false
}
