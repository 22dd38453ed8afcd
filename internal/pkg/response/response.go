// Package response 统一管理端 API 的应答格式。
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	infraerrors "github.com/Tonwed/NullGravity/internal/pkg/errors"
)

// Body 管理端统一应答壳。
type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Success 200 应答。
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Code: 0, Data: data})
}

// BadRequest 400 应答。
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Body{Code: http.StatusBadRequest, Message: message})
}

// NotFound 404 应答。
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Body{Code: http.StatusNotFound, Message: message})
}

// ErrorFrom 按 infraerrors 的 Code 映射 HTTP 状态。
func ErrorFrom(c *gin.Context, err error) {
	e := infraerrors.FromError(err)
	status := int(e.Code)
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, Body{Code: status, Message: e.Message})
}
