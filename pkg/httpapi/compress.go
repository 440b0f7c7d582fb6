package httpapi

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/cuemby/burrow/pkg/metrics"
)

// compressionMiddleware buffers each response and compresses it with
// whichever encoding the client's Accept-Encoding header prefers
// (zstd over gzip, matching klauspost/compress's own performance
// ordering), skipping bodies under minBytes and discarding the
// compressed form if it does not clear ratioMin. A Server-Timing
// header reports the time spent and the ratio achieved.
func compressionMiddleware(minBytes int, ratioMin float64) func(http.Handler) http.Handler {
	if ratioMin <= 1.0 {
		ratioMin = 1.11
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buf := &bufferingWriter{header: make(http.Header), status: http.StatusOK}
			next.ServeHTTP(buf, r)

			for k, vs := range buf.header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}

			body := buf.body.Bytes()
			encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
			if encoding == "" || len(body) < minBytes || buf.header.Get("Content-Encoding") != "" {
				w.WriteHeader(buf.status)
				_, _ = w.Write(body)
				return
			}

			start := time.Now()
			compressed, err := compressBody(encoding, body)
			elapsed := time.Since(start)
			ratio := float64(len(body)) / float64(max(len(compressed), 1))
			if err != nil || len(compressed) == 0 || ratio < ratioMin {
				w.WriteHeader(buf.status)
				_, _ = w.Write(body)
				return
			}

			metrics.CompressionRatio.Observe(ratio)
			w.Header().Set("Content-Encoding", encoding)
			w.Header().Set("Vary", "Accept-Encoding")
			w.Header().Set("Server-Timing", serverTimingValue(elapsed, ratio))
			w.Header().Del("Content-Length")
			w.WriteHeader(buf.status)
			_, _ = w.Write(compressed)
		})
	}
}

// bufferingWriter captures a handler's headers, status, and body
// without writing to the client, so compressionMiddleware can decide
// whether compressing the result is worthwhile before committing to
// an encoding.
type bufferingWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferingWriter) Header() http.Header { return b.header }

func (b *bufferingWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferingWriter) WriteHeader(status int) { b.status = status }

func negotiateEncoding(acceptEncoding string) string {
	lower := strings.ToLower(acceptEncoding)
	switch {
	case strings.Contains(lower, "zstd"):
		return "zstd"
	case strings.Contains(lower, "gzip"):
		return "gzip"
	default:
		return ""
	}
}

func compressBody(encoding string, body []byte) ([]byte, error) {
	var out bytes.Buffer
	switch encoding {
	case "zstd":
		enc, err := zstd.NewWriter(&out, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		if _, err := enc.Write(body); err != nil {
			enc.Close()
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	case "gzip":
		gz, err := gzip.NewWriterLevel(&out, gzip.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := gz.Write(body); err != nil {
			gz.Close()
			return nil, err
		}
		if err := gz.Close(); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

func serverTimingValue(elapsed time.Duration, ratio float64) string {
	ms := float64(elapsed) / float64(time.Millisecond)
	return "compress;dur=" + strconv.FormatFloat(ms, 'f', 2, 64) +
		";ratio=" + strconv.FormatFloat(ratio, 'f', 3, 64)
}
