package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/eno-chat/internal/model"
	"github.com/iliyamo/eno-chat/internal/repository"
	"github.com/iliyamo/eno-chat/internal/storage"
	"github.com/iliyamo/eno-chat/internal/utils"
)

// Response bodies shared by several handlers.  Login failures in particular
// must stay byte-identical whatever the cause.
const (
	msgInvalidCredentials = "Invalid username or password"
	msgInternal           = "internal server error"
	msgNoFile             = "No file uploaded"
)

// respondError maps a domain error onto a status and body.  Anything it does
// not recognise is an upstream fault: the cause is logged, the client only
// sees a generic 500.
func respondError(c echo.Context, log *zap.Logger, err error) error {
	var dup *repository.DuplicateError
	switch {
	case errors.As(err, &dup) && dup.Field != "":
		return c.JSON(http.StatusBadRequest, echo.Map{"error": dup.Error()})
	case errors.Is(err, repository.ErrDuplicate):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "already exists"})
	case errors.Is(err, model.ErrInvalidPayload):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, storage.ErrFileTooLarge):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file too large"})
	case errors.Is(err, storage.ErrUnsupportedType):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported file type"})
	case errors.Is(err, storage.ErrEmptyFile):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "empty file"})
	case errors.Is(err, utils.ErrTokenExpired), errors.Is(err, utils.ErrInvalidToken):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid token"})
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}
	log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("route", c.Path()),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err),
	)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": msgInternal})
}

// validationFailed answers 400 with a per-field reason map.
func validationFailed(c echo.Context, fields map[string]string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": fields})
}
