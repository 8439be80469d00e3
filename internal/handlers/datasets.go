package handlers

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/latticeworks/facet/internal/backend"
	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/services"
	"github.com/latticeworks/facet/internal/types"
	"github.com/latticeworks/facet/internal/utils"
	"gorm.io/gorm"
)

// DatasetHandler handles dataset metadata, upload, download and lineage
// routes
type DatasetHandler struct {
	DB      *gorm.DB
	Backend backend.Client
}

// List handles GET /api/datasets
// @Summary List visible datasets
// @Description List active datasets the caller may see, ordered by group then filename
// @Tags Datasets
// @Produce json
// @Success 200 {array} models.Dataset
// @Failure 401 {object} utils.ErrorResponseStruct
// @Router /datasets [get]
func (h *DatasetHandler) List(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "datasets.list")
	}
	datasets, err := services.ListVisibleDatasets(h.DB, user)
	if err != nil {
		return serviceError(c, err, "datasets.list")
	}
	return c.Status(fiber.StatusOK).JSON(datasets)
}

// Get handles GET /api/datasets/:id
// @Summary Get dataset metadata
// @Tags Datasets
// @Produce json
// @Param id path int true "Dataset ID"
// @Success 200 {object} models.Dataset
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /datasets/{id} [get]
func (h *DatasetHandler) Get(c *fiber.Ctx) error {
	_, ds, err := h.visibleDataset(c)
	if err != nil {
		return serviceError(c, err, "datasets.get")
	}
	return c.Status(fiber.StatusOK).JSON(ds)
}

// Upload handles POST /api/datasets
// @Summary Register a dataset
// @Description Validate and upload a crystallographic file, creating its metadata record
// @Tags Datasets
// @Accept mpfd
// @Produce json
// @Param file formData file true "Dataset file"
// @Param group_id formData int true "Owning group"
// @Success 201 {object} models.Dataset
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 502 {object} utils.ErrorResponseStruct
// @Router /datasets [post]
func (h *DatasetHandler) Upload(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "datasets.upload")
	}

	groupID, err := strconv.ParseUint(c.FormValue("group_id"), 10, 64)
	if err != nil {
		return serviceError(c, &types.ValidationError{Message: "group_id is required"}, "datasets.upload")
	}

	selectable, err := services.SelectableGroupsForUpload(h.DB, user)
	if err != nil {
		return serviceError(c, err, "datasets.upload")
	}
	allowed := false
	for _, g := range selectable {
		if g.GroupID == uint(groupID) {
			allowed = true
			break
		}
	}
	if !allowed {
		return serviceError(c, &types.PermissionError{Message: "group is not selectable"}, "datasets.upload")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return serviceError(c, &types.ValidationError{Message: "file is required"}, "datasets.upload")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return serviceError(c, err, "datasets.upload")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return serviceError(c, err, "datasets.upload")
	}

	ds, err := services.Register(c.Context(), h.DB, h.Backend, data, fileHeader.Filename, user.UserID, uint(groupID))
	if err != nil {
		return serviceError(c, err, "datasets.upload")
	}
	return c.Status(fiber.StatusCreated).JSON(ds)
}

// Delete handles DELETE /api/datasets/:id
// @Summary Deactivate a dataset
// @Description Soft-delete: remove backend copy, keep the metadata row for lineage
// @Tags Datasets
// @Produce json
// @Param id path int true "Dataset ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 502 {object} utils.ErrorResponseStruct
// @Router /datasets/{id} [delete]
func (h *DatasetHandler) Delete(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "datasets.delete")
	}
	id, err := paramUint(c, "id")
	if err != nil {
		return serviceError(c, err, "datasets.delete")
	}
	if err := services.Deactivate(c.Context(), h.DB, h.Backend, user, id); err != nil {
		return serviceError(c, err, "datasets.delete")
	}
	return utils.MutationSuccessResponse(c, 1)
}

// Download handles GET /api/datasets/:id/download
// @Summary Download dataset bytes
// @Tags Datasets
// @Produce octet-stream
// @Param id path int true "Dataset ID"
// @Success 200 {file} binary
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 502 {object} utils.ErrorResponseStruct
// @Router /datasets/{id}/download [get]
func (h *DatasetHandler) Download(c *fiber.Ctx) error {
	_, ds, err := h.visibleDataset(c)
	if err != nil {
		return serviceError(c, err, "datasets.download")
	}
	data, err := services.Download(c.Context(), h.Backend, ds)
	if err != nil {
		return serviceError(c, err, "datasets.download")
	}
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", ds.Filename))
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Status(fiber.StatusOK).Send(data)
}

// Lineage handles GET /api/datasets/:id/lineage
// @Summary Dataset provenance chain
// @Description The producing steps from the root upload down to this dataset
// @Tags Datasets
// @Produce json
// @Param id path int true "Dataset ID"
// @Success 200 {array} models.ProcessStep
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /datasets/{id}/lineage [get]
func (h *DatasetHandler) Lineage(c *fiber.Ctx) error {
	_, ds, err := h.visibleDataset(c)
	if err != nil {
		return serviceError(c, err, "datasets.lineage")
	}
	chain, err := services.Ancestors(h.DB, ds)
	if err != nil {
		return serviceError(c, err, "datasets.lineage")
	}
	return c.Status(fiber.StatusOK).JSON(chain)
}

// visibleDataset loads the :id dataset and checks the caller may see it.
func (h *DatasetHandler) visibleDataset(c *fiber.Ctx) (user *models.User, ds *models.Dataset, err error) {
	actor, err := currentUser(c)
	if err != nil {
		return nil, nil, err
	}
	id, err := paramUint(c, "id")
	if err != nil {
		return nil, nil, err
	}
	ds, err = services.GetDataset(h.DB, id)
	if err != nil {
		return nil, nil, err
	}
	groups, err := services.GroupsOf(h.DB, actor)
	if err != nil {
		return nil, nil, err
	}
	if !services.CanViewDataset(actor, groups, ds) {
		return nil, nil, &types.PermissionError{Message: "not allowed to view this dataset"}
	}
	return actor, ds, nil
}
