package facility

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/pkg/pagination"
)

// Handler exposes the ward, bed and allocation HTTP endpoints.
type Handler struct {
	service   *Service
	allocator *Allocator
}

func NewHandler(service *Service, allocator *Allocator) *Handler {
	return &Handler{service: service, allocator: allocator}
}

// RegisterRoutes mounts the facility routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/wards", h.createWard)
	g.GET("/wards", h.listWards)
	g.GET("/wards/:id", h.getWard)
	g.DELETE("/wards/:id", h.deleteWard)
	g.POST("/wards/:id/beds", h.addBed)
	g.GET("/wards/:id/beds", h.listBeds)
	g.GET("/wards/:id/occupancy", h.occupancy)

	g.GET("/beds/:id", h.getBed)
	g.PATCH("/beds/:id", h.renameBed)
	g.DELETE("/beds/:id", h.deleteBed)
	g.POST("/beds/:id/allocate", h.allocateBed)
	g.POST("/beds/:id/release", h.releaseBed)
	g.POST("/beds/move", h.moveBed)
}

type createWardRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

func (h *Handler) createWard(c echo.Context) error {
	var req createWardRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	w, err := h.service.CreateWard(c.Request().Context(), req.Name, req.Capacity)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) listWards(c echo.Context) error {
	p := pagination.FromContext(c)
	wards, total, err := h.service.ListWards(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(wards, total, p))
}

func (h *Handler) getWard(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	w, err := h.service.GetWard(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) deleteWard(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.DeleteWard(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type addBedRequest struct {
	Label string `json:"label"`
}

func (h *Handler) addBed(c echo.Context) error {
	wardID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req addBedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Label == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "label is required")
	}
	b, err := h.service.AddBed(c.Request().Context(), wardID, req.Label)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) listBeds(c echo.Context) error {
	wardID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	beds, total, err := h.service.ListBedsByWard(c.Request().Context(), wardID, p.Limit, p.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(beds, total, p))
}

func (h *Handler) occupancy(c echo.Context) error {
	wardID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	occ, err := h.service.WardOccupancy(c.Request().Context(), wardID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, occ)
}

func (h *Handler) getBed(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.service.GetBed(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

type renameBedRequest struct {
	Label string `json:"label"`
}

func (h *Handler) renameBed(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req renameBedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Label == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "label is required")
	}
	if err := h.service.RenameBed(c.Request().Context(), id, req.Label); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) deleteBed(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.DeleteBed(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type allocateBedRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
}

func (h *Handler) allocateBed(c echo.Context) error {
	bedID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req allocateBedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if err := h.allocator.Allocate(c.Request().Context(), bedID, req.PatientID); err != nil {
		return respondError(c, err)
	}
	b, err := h.service.GetBed(c.Request().Context(), bedID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) releaseBed(c echo.Context) error {
	bedID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	patientID, err := h.allocator.Release(c.Request().Context(), bedID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"bed_id":     bedID.String(),
		"patient_id": patientID.String(),
	})
}

type moveBedRequest struct {
	SourceBedID uuid.UUID `json:"source_bed_id"`
	TargetBedID uuid.UUID `json:"target_bed_id"`
}

func (h *Handler) moveBed(c echo.Context) error {
	var req moveBedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SourceBedID == uuid.Nil || req.TargetBedID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "source_bed_id and target_bed_id are required")
	}
	if err := h.allocator.Move(c.Request().Context(), req.SourceBedID, req.TargetBedID); err != nil {
		return respondError(c, err)
	}
	b, err := h.service.GetBed(c.Request().Context(), req.TargetBedID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func respondError(c echo.Context, err error) error {
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return c.JSON(apperror.HTTPStatus(err), map[string]interface{}{"error": ae})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
