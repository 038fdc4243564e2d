package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Autumn-27/ScopeSentry-sub000/internal/apperr"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// 响应码定义
const (
	CodeSuccess     = 0
	CodeBadRequest  = 400
	CodeNotFound    = 404
	CodeServerError = 500
)

// 响应消息定义
const (
	MsgSuccess     = "success"
	MsgBadRequest  = "参数解析失败"
	MsgServerError = "server error"
)

// Success 成功响应
func Success(c *fiber.Ctx, data any) error {
	return c.JSON(Response{
		Code:    CodeSuccess,
		Message: MsgSuccess,
		Data:    data,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *fiber.Ctx, message string) error {
	if message == "" {
		message = MsgBadRequest
	}
	return c.Status(fiber.StatusBadRequest).JSON(Response{
		Code:    CodeBadRequest,
		Message: message,
	})
}

// Fail 按错误类型返回响应: NotFound→404, Validation→400, 其余→500
func Fail(c *fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, CodeServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status, code = fiber.StatusNotFound, CodeNotFound
	case apperr.KindValidation:
		status, code = fiber.StatusBadRequest, CodeBadRequest
	}
	return c.Status(status).JSON(Response{
		Code:    code,
		Message: err.Error(),
	})
}

// errorHandler 处理 handler 未捕获的错误
func errorHandler(c *fiber.Ctx, err error) error {
	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(Response{Code: e.Code, Message: e.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(Response{
		Code:    CodeServerError,
		Message: MsgServerError,
	})
}
