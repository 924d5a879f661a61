package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/kubelens/kubelens/pkg/k8s"
	"github.com/kubelens/kubelens/pkg/store"
)

// errNoClusterAccess is returned when the server has no Kubernetes client.
var errNoClusterAccess = fiber.NewError(fiber.StatusServiceUnavailable, "No cluster access")

// StatusFor maps an error to the HTTP status reported to clients.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, k8s.ErrUnknownKind), errors.Is(err, k8s.ErrUnknownCluster), errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, k8s.ErrNotScalable), errors.Is(err, k8s.ErrNotRestartable):
		return fiber.StatusMethodNotAllowed
	case errors.Is(err, k8s.ErrMismatchedObject), errors.Is(err, k8s.ErrInvalidInput), apierrors.IsBadRequest(err):
		return fiber.StatusBadRequest
	case apierrors.IsNotFound(err):
		return fiber.StatusNotFound
	case apierrors.IsConflict(err), apierrors.IsAlreadyExists(err):
		return fiber.StatusConflict
	case apierrors.IsForbidden(err):
		return fiber.StatusForbidden
	case apierrors.IsInvalid(err):
		return fiber.StatusUnprocessableEntity
	case apierrors.IsServiceUnavailable(err):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorMessage returns the message reported with err. Errors without a
// mapping are hidden behind a generic message.
func ErrorMessage(err error) string {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	if StatusFor(err) == fiber.StatusInternalServerError {
		return "Internal Server Error"
	}
	return err.Error()
}
