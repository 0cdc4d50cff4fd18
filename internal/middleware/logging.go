package middleware

import (
	"bytes"
	"time"

	"github.com/gin-gonic/gin"

	"kazakh-hub/pkg/log"
)

// maxLoggedBody 是请求日志中保留的响应体长度，记录内容可能很大。
const maxLoggedBody = 512

// bodyLogWriter 用于捕获响应体的前 maxLoggedBody 字节
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	if remain := maxLoggedBody - w.body.Len(); remain > 0 {
		if len(b) < remain {
			remain = len(b)
		}
		w.body.Write(b[:remain])
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，记录每个请求的状态、耗时、请求体大小和截断后的响应体。
// 请求体不落日志：上传的代码内容可能达到上百 MB。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		blw := &bodyLogWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"author", Author(c),
			"requestBytes", c.Request.ContentLength,
			"responseBody", blw.body.String(),
		)
	}
}
