package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/latticeworks/facet/internal/services"
	"github.com/latticeworks/facet/internal/types"
)

// SessionHandler handles interactive session routes
type SessionHandler struct {
	Coordinator *services.Coordinator
}

// launchRequest is the session launch payload.
type launchRequest struct {
	ApplicationID types.FlexUint `json:"applicationId"`
	DatasetID     types.FlexUint `json:"datasetId"`
}

// List handles GET /api/sessions
// @Summary List visible sessions
// @Description Own sessions; group-wide for group managers; all for global access
// @Tags Sessions
// @Produce json
// @Success 200 {array} models.SessionReference
// @Failure 401 {object} utils.ErrorResponseStruct
// @Router /sessions [get]
func (h *SessionHandler) List(c *fiber.Ctx) error {
	actor, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "sessions.list")
	}
	refs, err := h.Coordinator.ListVisible(actor)
	if err != nil {
		return serviceError(c, err, "sessions.list")
	}
	return c.Status(fiber.StatusOK).JSON(refs)
}

// Launch handles POST /api/sessions
// @Summary Launch an interactive session
// @Description Starts a backend session of an application against a dataset
// @Tags Sessions
// @Accept json
// @Produce json
// @Param session body launchRequest true "Application and dataset"
// @Success 201 {object} models.SessionReference
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Failure 502 {object} utils.ErrorResponseStruct
// @Router /sessions [post]
func (h *SessionHandler) Launch(c *fiber.Ctx) error {
	actor, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "sessions.launch")
	}
	var req launchRequest
	if err := c.BodyParser(&req); err != nil {
		return serviceError(c, err, "sessions.launch")
	}
	ref, err := h.Coordinator.Launch(c.Context(), actor, req.ApplicationID.Uint(), req.DatasetID.Uint())
	if err != nil {
		return serviceError(c, err, "sessions.launch")
	}
	return c.Status(fiber.StatusCreated).JSON(ref)
}

// End handles POST /api/sessions/:id/end
// @Summary End a session
// @Description Closes the backend session and records the provenance step
// @Tags Sessions
// @Produce json
// @Param id path int true "Session reference ID"
// @Success 200 {object} models.SessionReference
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Failure 502 {object} utils.ErrorResponseStruct
// @Router /sessions/{id}/end [post]
func (h *SessionHandler) End(c *fiber.Ctx) error {
	actor, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "sessions.end")
	}
	id, err := paramUint(c, "id")
	if err != nil {
		return serviceError(c, err, "sessions.end")
	}
	ref, err := h.Coordinator.End(c.Context(), actor, id)
	if err != nil {
		return serviceError(c, err, "sessions.end")
	}
	return c.Status(fiber.StatusOK).JSON(ref)
}

// Kill handles POST /api/sessions/:id/kill
// @Summary Force-end a session
// @Description Administrative close; a session unknown to the backend is marked lapsed
// @Tags Sessions
// @Produce json
// @Param id path int true "Session reference ID"
// @Success 200 {object} models.SessionReference
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /sessions/{id}/kill [post]
func (h *SessionHandler) Kill(c *fiber.Ctx) error {
	actor, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "sessions.kill")
	}
	id, err := paramUint(c, "id")
	if err != nil {
		return serviceError(c, err, "sessions.kill")
	}
	ref, err := h.Coordinator.Kill(c.Context(), actor, id)
	if err != nil {
		return serviceError(c, err, "sessions.kill")
	}
	return c.Status(fiber.StatusOK).JSON(ref)
}

// Reconcile handles POST /api/sessions/reconcile
// @Summary Reconcile active sessions against the backend
// @Description Marks sessions the backend no longer recognises as lapsed
// @Tags Sessions
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 502 {object} utils.ErrorResponseStruct
// @Router /sessions/reconcile [post]
func (h *SessionHandler) Reconcile(c *fiber.Ctx) error {
	lapsed, err := h.Coordinator.Reconcile(c.Context())
	if err != nil {
		return serviceError(c, err, "sessions.reconcile")
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":     true,
		"lapsed": lapsed,
	})
}
