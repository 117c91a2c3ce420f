package promo

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/arkastore/backend-promo/internal/cart"
	"github.com/arkastore/backend-promo/internal/common"
)

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// Handler exposes promotion management and evaluation endpoints.
type Handler struct {
	Svc *Service
}

// Routes mounts the promotion endpoints on a chi router. The admin group is
// expected to sit behind role-checking middleware configured by the caller.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Deactivate)
	r.Post("/validate", h.ValidateDefinition)
	r.Post("/preview", h.Preview)
	r.Post("/apply", h.Apply)
	return r
}

type promotionPayload struct {
	Name           string      `json:"name" validate:"required"`
	Description    string      `json:"description"`
	Code           string      `json:"code"`
	Kind           Kind        `json:"kind" validate:"required"`
	Conditions     []Condition `json:"conditions" validate:"required,min=1"`
	Actions        []Action    `json:"actions" validate:"required,min=1"`
	Priority       int         `json:"priority"`
	StartAt        time.Time   `json:"startAt" validate:"required"`
	EndAt          time.Time   `json:"endAt" validate:"required"`
	MaxUses        *int        `json:"maxUses"`
	MaxUsesPerUser *int        `json:"maxUsesPerUser"`
	Stackable      bool        `json:"stackable"`
	IsActive       *bool       `json:"isActive"`
}

type evaluateRequest struct {
	Cart    cart.Cart  `json:"cart" validate:"required"`
	User    *cart.User `json:"user"`
	OrderID string     `json:"orderId"`
}

func (p promotionPayload) toPromotion() *Promotion {
	out := &Promotion{
		Name:           strings.TrimSpace(p.Name),
		Description:    p.Description,
		Code:           strings.ToUpper(strings.TrimSpace(p.Code)),
		Kind:           p.Kind,
		Conditions:     p.Conditions,
		Actions:        p.Actions,
		Priority:       p.Priority,
		StartAt:        p.StartAt,
		EndAt:          p.EndAt,
		MaxUses:        UnlimitedUses,
		MaxUsesPerUser: UnlimitedUses,
		Stackable:      p.Stackable,
		IsActive:       true,
	}
	if p.MaxUses != nil {
		out.MaxUses = *p.MaxUses
	}
	if p.MaxUsesPerUser != nil {
		out.MaxUsesPerUser = *p.MaxUsesPerUser
	}
	if p.IsActive != nil {
		out.IsActive = *p.IsActive
	}
	return out
}

// Create inserts a new promotion definition.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}
	p := payload.toPromotion()
	if err := h.Svc.Create(r.Context(), p); err != nil {
		h.writeError(w, err, "failed to create promotion")
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": p})
}

// Update rewrites an existing promotion definition.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}
	p := payload.toPromotion()
	p.ID = id
	if err := h.Svc.Update(r.Context(), p); err != nil {
		h.writeError(w, err, "failed to update promotion")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

// Get returns one promotion with its usage snapshot and derived state.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	p, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "failed to load promotion")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":  p,
		"state": p.StateAt(time.Now().UTC()),
	})
}

// List returns promotions newest first. `includeInactive=true` widens the
// result to deactivated definitions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20)
	includeInactive := r.URL.Query().Get("includeInactive") == "true"
	promotions, total, err := h.Svc.List(r.Context(), includeInactive, perPage, (page-1)*perPage)
	if err != nil {
		h.writeError(w, err, "failed to list promotions")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": promotions,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: int(total),
		},
	})
}

// Deactivate turns a promotion off while keeping its history.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Deactivate(r.Context(), id); err != nil {
		h.writeError(w, err, "failed to deactivate promotion")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": id, "isActive": false}})
}

// ValidateDefinition reports every violation in the submitted definition
// without persisting anything.
func (h *Handler) ValidateDefinition(w http.ResponseWriter, r *http.Request) {
	var payload promotionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	violations := h.Svc.ValidateDefinition(payload.toPromotion())
	common.JSON(w, http.StatusOK, map[string]any{
		"valid":      len(violations) == 0,
		"violations": violations,
	})
}

// Preview evaluates every active promotion against the submitted cart
// without consuming any usage.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeEvaluate(w, r)
	if !ok {
		return
	}
	result, err := h.Svc.Preview(r.Context(), req.Cart, h.resolveUser(r, req.User))
	if err != nil {
		h.writeError(w, err, "failed to evaluate promotions")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// Apply evaluates and settles the chosen promotions against the order.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeEvaluate(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "orderId is required", nil)
		return
	}
	result, err := h.Svc.Apply(r.Context(), req.Cart, h.resolveUser(r, req.User), req.OrderID)
	if err != nil {
		h.writeError(w, err, "failed to apply promotions")
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

func (h *Handler) decodePayload(w http.ResponseWriter, r *http.Request) (promotionPayload, bool) {
	var payload promotionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return payload, false
	}
	if err := payloadValidator.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", validationDetails(err))
		return payload, false
	}
	return payload, true
}

func (h *Handler) decodeEvaluate(w http.ResponseWriter, r *http.Request) (evaluateRequest, bool) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return req, false
	}
	if len(req.Cart.Items) == 0 && req.Cart.Pricing.Subtotal.IsZero() {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart is required", nil)
		return req, false
	}
	return req, true
}

// resolveUser prefers the authenticated identity over the request payload so
// callers cannot evaluate caps on behalf of someone else.
func (h *Handler) resolveUser(r *http.Request, u *cart.User) *cart.User {
	id, ok := common.UserID(r.Context())
	if !ok || id == "" {
		return u
	}
	if u == nil {
		return &cart.User{ID: id}
	}
	out := *u
	out.ID = id
	return &out
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid promotion id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "promotion not found", nil)
	case errors.Is(err, ErrDuplicateCode):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "promotion code already exists", nil)
	case errors.Is(err, ErrExhausted):
		common.JSONError(w, http.StatusConflict, "PROMOTION_EXHAUSTED", "promotion usage cap reached", nil)
	case errors.Is(err, ErrInvalidDefinition):
		common.JSONError(w, http.StatusBadRequest, "INVALID_DEFINITION", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", fallback, nil)
	}
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
