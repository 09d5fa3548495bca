package core

import (
	"errors"

	"github.com/everpan/idorm/pkg/errs"
	"github.com/gofiber/fiber/v2"
)

// Response codes of the {code,msg,data} envelope.
const (
	CodeOK            = 0
	CodeBadRequest    = -1
	CodeValidation    = -2
	CodeNotFound      = -3
	CodeDatabase      = -4
	CodeConfiguration = -5
)

type Resp struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    any    `json:"data,omitempty"`
}

func NewResp(code int, msg string, data any) *Resp {
	return &Resp{
		code, msg, data,
	}
}

func (c *Context) SendJSON(code int, msg string, data any) error {
	c.fb.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	resp := NewResp(code, msg, data)
	return c.fb.JSON(resp)
}

func (c *Context) SendBadRequestError(err error) error {
	c.fb.Status(fiber.StatusBadRequest)
	return c.SendJSON(CodeBadRequest, err.Error(), nil)
}

func (c *Context) SendSuccess(data any) error {
	c.fb.Status(fiber.StatusOK)
	return c.SendJSON(CodeOK, "ok", data)
}

// SendError maps the typed errors of the facade to a status and a code.
// Validation errors carry their violations as data.
func (c *Context) SendError(err error) error {
	var (
		ve *errs.ValidationError
		de *errs.DatabaseError
	)
	switch {
	case errors.As(err, &ve):
		c.fb.Status(fiber.StatusUnprocessableEntity)
		return c.SendJSON(CodeValidation, err.Error(), ve.Violations)
	case errors.Is(err, errs.ErrNotFound), errs.IsRelationNotFound(err):
		c.fb.Status(fiber.StatusNotFound)
		return c.SendJSON(CodeNotFound, err.Error(), nil)
	case errors.As(err, &de):
		c.fb.Status(fiber.StatusInternalServerError)
		return c.SendJSON(CodeDatabase, err.Error(), nil)
	case errs.IsConfigurationError(err), errs.IsRelationKeyMissing(err):
		c.fb.Status(fiber.StatusBadRequest)
		return c.SendJSON(CodeConfiguration, err.Error(), nil)
	default:
		return c.SendBadRequestError(err)
	}
}
