// Package middleware holds cross-cutting Fiber middleware shared by the
// HTTP and WebSocket upgrade surfaces.
package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/blockroom/roomd/pkg/apperr"
)

// Recovery turns a panicked handler into a structured error response
// instead of a dropped connection, rendering apperr.GenericError panics
// with their own status/code and anything else as a 500.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				res := apperr.ResponseData{
					Status:  fiber.StatusInternalServerError,
					Code:    "INTERNAL_SERVER_ERROR",
					Message: fmt.Sprintf("%v", r),
				}

				logrus.Errorf("panic recovered: %v", r)

				if genErr, ok := r.(apperr.GenericError); ok {
					res.Status = genErr.StatusCode()
					res.Code = genErr.ErrCode()
					res.Message = genErr.Error()
				}

				_ = ctx.Status(res.Status).JSON(res)
			}
		}()

		return ctx.Next()
	}
}
