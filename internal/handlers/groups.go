package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/latticeworks/facet/internal/services"
	"github.com/latticeworks/facet/internal/types"
	"github.com/latticeworks/facet/internal/utils"
	"gorm.io/gorm"
)

// GroupHandler handles group management routes. Mutations are mounted
// behind the global-access role check.
type GroupHandler struct {
	DB *gorm.DB
}

// groupRequest is the create/update payload.
type groupRequest struct {
	Name     string                         `json:"name"`
	OwnerIDs types.FlexList[types.FlexUint] `json:"ownerIds"`
}

func (r *groupRequest) ownerIDs() []uint {
	if r.OwnerIDs == nil {
		return nil
	}
	ids := make([]uint, 0, len(r.OwnerIDs))
	for _, id := range r.OwnerIDs {
		ids = append(ids, id.Uint())
	}
	return ids
}

// List handles GET /api/groups
// @Summary List visible groups
// @Tags Groups
// @Produce json
// @Success 200 {array} models.Group
// @Failure 401 {object} utils.ErrorResponseStruct
// @Router /groups [get]
func (h *GroupHandler) List(c *fiber.Ctx) error {
	actor, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "groups.list")
	}
	groups, err := services.VisibleGroups(h.DB, actor)
	if err != nil {
		return serviceError(c, err, "groups.list")
	}
	return c.Status(fiber.StatusOK).JSON(groups)
}

// Get handles GET /api/groups/:id
// @Summary Get a group with its owners
// @Tags Groups
// @Produce json
// @Param id path int true "Group ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /groups/{id} [get]
func (h *GroupHandler) Get(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return serviceError(c, err, "groups.get")
	}
	group, err := services.GetGroup(h.DB, id)
	if err != nil {
		return serviceError(c, err, "groups.get")
	}
	owners, err := services.OwnersOf(h.DB, group)
	if err != nil {
		return serviceError(c, err, "groups.get")
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"group":  group,
		"owners": owners,
	})
}

// Create handles POST /api/groups
// @Summary Create a group
// @Tags Groups
// @Accept json
// @Produce json
// @Param group body groupRequest true "New group"
// @Success 201 {object} models.Group
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Router /groups [post]
func (h *GroupHandler) Create(c *fiber.Ctx) error {
	var req groupRequest
	if err := c.BodyParser(&req); err != nil {
		return serviceError(c, err, "groups.create")
	}
	group, err := services.CreateGroup(h.DB, req.Name, req.ownerIDs())
	if err != nil {
		return serviceError(c, err, "groups.create")
	}
	return c.Status(fiber.StatusCreated).JSON(group)
}

// Update handles PUT /api/groups/:id
// @Summary Rename a group or replace its owners
// @Tags Groups
// @Accept json
// @Produce json
// @Param id path int true "Group ID"
// @Param group body groupRequest true "Changes"
// @Success 200 {object} models.Group
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /groups/{id} [put]
func (h *GroupHandler) Update(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return serviceError(c, err, "groups.update")
	}
	var req groupRequest
	if err := c.BodyParser(&req); err != nil {
		return serviceError(c, err, "groups.update")
	}
	group, err := services.UpdateGroup(h.DB, id, req.Name, req.ownerIDs())
	if err != nil {
		return serviceError(c, err, "groups.update")
	}
	return c.Status(fiber.StatusOK).JSON(group)
}

// Delete handles DELETE /api/groups/:id
// @Summary Delete a group
// @Description Rejected while active datasets still belong to the group
// @Tags Groups
// @Produce json
// @Param id path int true "Group ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /groups/{id} [delete]
func (h *GroupHandler) Delete(c *fiber.Ctx) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return serviceError(c, err, "groups.delete")
	}
	if err := services.DeleteGroup(h.DB, id); err != nil {
		return serviceError(c, err, "groups.delete")
	}
	return utils.MutationSuccessResponse(c, 1)
}
