package episode

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/pkg/pagination"
)

// Handler exposes the care episode HTTP endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the episode routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/episodes", h.book)
	g.GET("/episodes", h.list)
	g.GET("/episodes/:id", h.get)
	g.DELETE("/episodes/:id", h.delete)
	g.POST("/episodes/:id/status", h.setStatus)
	g.POST("/episodes/:id/admit", h.admit)
	g.POST("/episodes/:id/transfer", h.transfer)
	g.POST("/episodes/:id/complete", h.completeOutpatient)
	g.POST("/episodes/:id/discharge", h.discharge)
	g.POST("/episodes/:id/cancel", h.cancel)
	g.GET("/patients/:id/episodes", h.listByPatient)
}

type bookRequest struct {
	PatientID   uuid.UUID `json:"patient_id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Method      string    `json:"method"`
}

func (h *Handler) book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and doctor_id are required")
	}
	if req.ScheduledAt.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "scheduled_at is required")
	}
	if !ValidMethod(req.Method) {
		return echo.NewHTTPError(http.StatusBadRequest, "method must be in_person or remote")
	}
	e, err := h.service.Book(c.Request().Context(), req.PatientID, req.DoctorID, req.ScheduledAt, req.Method)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) list(c echo.Context) error {
	p := pagination.FromContext(c)
	episodes, total, err := h.service.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(episodes, total, p))
}

func (h *Handler) get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	e, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) setStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req setStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !ValidStatus(req.Status) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}
	e, err := h.service.SetStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

type admitRequest struct {
	BedID uuid.UUID `json:"bed_id"`
}

func (h *Handler) admit(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req admitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.BedID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bed_id is required")
	}
	e, err := h.service.Admit(c.Request().Context(), id, req.BedID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

type transferRequest struct {
	TargetBedID uuid.UUID `json:"target_bed_id"`
}

func (h *Handler) transfer(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TargetBedID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "target_bed_id is required")
	}
	e, err := h.service.Transfer(c.Request().Context(), id, req.TargetBedID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

type lineItemRequest struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

func lineItems(reqs []lineItemRequest) ([]billing.LineItem, error) {
	items := make([]billing.LineItem, 0, len(reqs))
	for _, req := range reqs {
		if req.Description == "" {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "line item description is required")
		}
		if req.Amount < 0 {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "line item amount must be non-negative")
		}
		items = append(items, billing.LineItem{Description: req.Description, Amount: req.Amount})
	}
	return items, nil
}

type completeRequest struct {
	Notes     string            `json:"notes"`
	LineItems []lineItemRequest `json:"line_items"`
}

func (h *Handler) completeOutpatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	items, err := lineItems(req.LineItems)
	if err != nil {
		return err
	}
	e, bill, err := h.service.CompleteOutpatient(c.Request().Context(), id, req.Notes, items)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"episode": e, "bill": bill})
}

type dischargeRequest struct {
	LineItems []lineItemRequest `json:"line_items"`
}

func (h *Handler) discharge(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req dischargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	items, err := lineItems(req.LineItems)
	if err != nil {
		return err
	}
	e, bill, err := h.service.Discharge(c.Request().Context(), id, items)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"episode": e, "bill": bill})
}

func (h *Handler) cancel(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	e, err := h.service.Cancel(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) listByPatient(c echo.Context) error {
	patientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	episodes, total, err := h.service.ListByPatient(c.Request().Context(), patientID, p.Limit, p.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(episodes, total, p))
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
