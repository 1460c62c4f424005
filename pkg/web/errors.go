package web

import (
	"errors"
	"strings"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

// handleServiceError maps engine errors onto RFC 7807 problems. The problem
// type is the lower-cased engine error code.
func handleServiceError(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	kind := strings.ToLower(services.Code(err))

	switch {
	case errors.Is(err, services.ErrUnauthorized):
		status = fiber.StatusUnauthorized
		kind = "unauthorized"
	case services.IsValidationError(err):
		status = fiber.StatusBadRequest
	case services.IsConflictError(err):
		status = fiber.StatusConflict
	case models.IsNotFound(err):
		status = fiber.StatusNotFound
	case errors.Is(err, models.ErrCollaborator):
		status = fiber.StatusBadGateway
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind)

	if status == fiber.StatusInternalServerError {
		problem = problem.WithError(err)
	} else {
		problem = problem.WithDetail(err.Error())
	}

	return c.Status(status).JSON(problem)
}
