package middleware

import (
	"net/http"

	"localmedia/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func errorBody(c *gin.Context, appErr *errors.AppError) gin.H {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	if id := c.GetString(RequestIDKey); id != "" {
		body["request_id"] = id
	}
	return body
}

// abortWith stops the chain and renders appErr.
func abortWith(c *gin.Context, appErr *errors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, errorBody(c, appErr))
}

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error. AppErrors keep their code and status; anything else is a 500.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr := errors.GetAppError(err)
		if appErr == nil {
			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			appErr = errors.NewInternalError("Internal server error")
		} else if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("application error",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"cause", appErr.Cause,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
			)
		}

		c.JSON(appErr.HTTPStatus, errorBody(c, appErr))
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				abortWith(c, errors.NewInternalError("Internal server error"))
			}
		}()

		c.Next()
	}
}
