package billing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/pkg/pagination"
)

// Handler exposes the bill and claim HTTP endpoints. Bills are only
// created through episode completion and discharge, so there is no
// create-bill route here.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the billing routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/bills/:id", h.getBill)
	g.GET("/episodes/:id/bill", h.getEpisodeBill)
	g.POST("/bills/:id/payments", h.recordPayment)
	g.POST("/bills/:id/claims", h.submitClaim)
	g.GET("/patients/:id/bills", h.listPatientBills)
	g.GET("/claims/:id", h.getClaim)
	g.POST("/claims/:id/resolve", h.resolveClaim)
}

func (h *Handler) getBill(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.service.GetBill(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) getEpisodeBill(c echo.Context) error {
	episodeID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.service.BillForEpisode(c.Request().Context(), episodeID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

type paymentRequest struct {
	Amount float64 `json:"amount"`
}

func (h *Handler) recordPayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Amount <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be positive")
	}
	b, err := h.service.RecordPayment(c.Request().Context(), id, req.Amount)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

type claimRequest struct {
	PolicyNumber string  `json:"policy_number"`
	Amount       float64 `json:"amount"`
}

func (h *Handler) submitClaim(c echo.Context) error {
	billID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req claimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PolicyNumber == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "policy_number is required")
	}
	if req.Amount <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be positive")
	}
	claim, err := h.service.SubmitClaim(c.Request().Context(), billID, req.PolicyNumber, req.Amount)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) listPatientBills(c echo.Context) error {
	patientID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	bills, total, err := h.service.ListBillsByPatient(c.Request().Context(), patientID, p.Limit, p.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bills, total, p))
}

func (h *Handler) getClaim(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	claim, err := h.service.GetClaim(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, claim)
}

type resolveClaimRequest struct {
	Approved *bool `json:"approved"`
}

func (h *Handler) resolveClaim(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req resolveClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Approved == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "approved is required")
	}
	claim, err := h.service.ResolveClaim(c.Request().Context(), id, *req.Approved)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, claim)
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
