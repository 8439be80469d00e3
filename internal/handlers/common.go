// common.go
//
// Facet - dataset lineage and session coordination service for a
// quantum-crystallography tool-execution backend.
//
// This file is part of facet.
// facet is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// facet is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/types"
	"github.com/latticeworks/facet/internal/utils"
)

// currentUser extracts the authenticated account loaded by the auth
// middleware.
func currentUser(c *fiber.Ctx) (*models.User, error) {
	user, ok := c.Locals("user").(*models.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// paramUint parses a numeric route parameter.
func paramUint(c *fiber.Ctx, name string) (uint, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &types.ValidationError{Message: fmt.Sprintf("invalid %s %q", name, raw)}
	}
	return uint(id), nil
}

// serviceError renders a service-layer error with the status code its type
// implies. op tags the error envelope for log correlation.
func serviceError(c *fiber.Ctx, err error, op string) error {
	var (
		validation  *types.ValidationError
		permission  *types.PermissionError
		notFound    *types.NotFoundError
		unavailable *types.BackendUnavailableError
		conflict    *types.SessionConflictError
		state       *types.InvalidStateError
		custom      *types.CustomError
	)

	switch {
	case errors.As(err, &validation):
		return utils.ErrorResponse(c, validation.Message, fiber.StatusBadRequest, op)
	case errors.As(err, &permission):
		return utils.ErrorResponse(c, permission.Message, fiber.StatusForbidden, op)
	case errors.As(err, &notFound):
		return utils.NotFoundResponse(c, notFound.Error())
	case errors.As(err, &unavailable):
		return utils.ErrorResponse(c, unavailable.Error(), fiber.StatusBadGateway, op)
	case errors.As(err, &conflict):
		return utils.ErrorResponse(c, conflict.Error(), fiber.StatusConflict, op)
	case errors.As(err, &state):
		return utils.ErrorResponse(c, state.Error(), fiber.StatusConflict, op)
	case errors.As(err, &custom):
		return utils.ErrorResponse(c, custom.Message, custom.Code, custom.Type)
	default:
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, op)
	}
}
