package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bridgeroute/internal/errors"
	"bridgeroute/internal/logger"
)

// RequestIDHeader 请求ID头
const RequestIDHeader = "X-Request-ID"

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error     *errors.AppError `json:"error"`
	Path      string           `json:"path"`
	RequestID string           `json:"request_id,omitempty"`
}

// RequestID 为每个请求分配请求ID，沿用调用方传入的值
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Recovery 捕获panic并返回内部错误
func Recovery(log logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.NewNop()
	}
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error("Panic recovered",
			"error", recovered,
			"stack", string(debug.Stack()),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		handleError(c, log, errors.New(errors.ErrCodeInternal, "Internal server error", nil))
	})
}

// ErrorHandler 将处理器记录的最后一个错误转换为JSON响应
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.NewNop()
	}
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			handleError(c, log, c.Errors.Last().Err)
		}
	}
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, err error) {
	if err == nil {
		return
	}

	// 包装标准错误，应用错误保持不变
	appErr := errors.Wrap(err, errors.ErrCodeInternal, "Internal server error")

	requestID := c.GetString("request_id")
	logError(c, log, appErr, requestID)

	c.AbortWithStatusJSON(appErr.HTTPStatus(), ErrorResponse{
		Error:     appErr,
		Path:      c.Request.URL.Path,
		RequestID: requestID,
	})
}

// logError 根据严重程度选择日志级别
func logError(c *gin.Context, log logger.Logger, err *errors.AppError, requestID string) {
	fields := []interface{}{
		"error_code", err.Code,
		"message", err.Message,
		"severity", err.Severity,
		"request_id", requestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"ip", c.ClientIP(),
	}
	if err.Details != "" {
		fields = append(fields, "details", err.Details)
	}
	if err.Cause != nil {
		fields = append(fields, "cause", err.Cause.Error())
	}

	switch err.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		log.Error("Request failed", fields...)
	case errors.SeverityMedium:
		log.Warn("Request failed", fields...)
	default:
		log.Info("Request failed", fields...)
	}
}

