package serverutils

import (
	"errors"

	"ai-relay-be/pkg/relay/correlator"
	"ai-relay-be/pkg/relay/registry"
	"ai-relay-be/pkg/relay/transport"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// ErrUnauthorized rejects administrative commands from non-privileged
// identities, with no side effect.
var ErrUnauthorized = errors.New("unauthorized")

// ErrIntakeDisabled rejects prompts while intake is administratively off.
var ErrIntakeDisabled = errors.New("intake is disabled")

// ErrWorkerOverload surfaces remote saturation so the caller can back off.
// Distinct from a timeout.
var ErrWorkerOverload = errors.New("worker overloaded")

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{Code: 200, Message: message, Data: data}
}

func ErrorResponse(code int, message string) APIResponse {
	return APIResponse{Code: code, Message: message}
}

var validate = validator.New()

func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// ErrorHandlerMiddleware maps domain errors to HTTP envelopes so
// controllers can simply return errors from the service layer.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		switch {
		case errors.Is(err, registry.ErrSessionNotFound):
			return ctx.Status(fiber.StatusNotFound).JSON(ErrorResponse(404, err.Error()))
		case errors.Is(err, registry.ErrSessionEnded):
			return ctx.Status(fiber.StatusGone).JSON(ErrorResponse(410, err.Error()))
		case errors.Is(err, registry.ErrRequestInFlight):
			return ctx.Status(fiber.StatusConflict).JSON(ErrorResponse(409, err.Error()))
		case errors.Is(err, ErrUnauthorized):
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(401, err.Error()))
		case errors.Is(err, ErrIntakeDisabled):
			return ctx.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse(503, err.Error()))
		case errors.Is(err, ErrWorkerOverload):
			return ctx.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse(503, err.Error()))
		case errors.Is(err, correlator.ErrExpired):
			return ctx.Status(fiber.StatusGatewayTimeout).JSON(ErrorResponse(504, err.Error()))
		case errors.Is(err, transport.ErrTransportUnavailable):
			return ctx.Status(fiber.StatusBadGateway).JSON(ErrorResponse(502, err.Error()))
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return ctx.Status(fe.Code).JSON(ErrorResponse(fe.Code, fe.Message))
		}

		return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse(500, "Internal server error"))
	}
}
