package coupon

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

// AdminQuerier is the store surface used by the admin endpoints.
type AdminQuerier interface {
	CreateCoupon(ctx context.Context, arg db.CreateCouponParams) (db.Coupon, error)
	UpdateCoupon(ctx context.Context, arg db.UpdateCouponParams) (db.Coupon, error)
	ListCoupons(ctx context.Context, arg db.ListCouponsParams) ([]db.Coupon, error)
}

// Handler exposes administrative coupon management endpoints.
type Handler struct {
	Q        AdminQuerier
	Index    *Index
	Validate *validator.Validate
}

type couponPayload struct {
	Code               string           `json:"code" validate:"required,max=32"`
	DiscountPercentage *decimal.Decimal `json:"discountPercentage" validate:"required"`
	IsActive           *bool            `json:"isActive"`
	ExpiresAt          *time.Time       `json:"expiresAt"`
}

type couponPatch struct {
	DiscountPercentage *decimal.Decimal `json:"discountPercentage"`
	IsActive           *bool            `json:"isActive"`
	ExpiresAt          *time.Time       `json:"expiresAt"`
	ClearExpiry        bool             `json:"clearExpiry"`
}

type couponView struct {
	Code               string          `json:"code"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	IsActive           bool            `json:"isActive"`
	ExpiresAt          *time.Time      `json:"expiresAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

func toView(c db.Coupon) couponView {
	return couponView{
		Code:               c.Code,
		DiscountPercentage: c.DiscountPercentage,
		IsActive:           c.IsActive,
		ExpiresAt:          c.ExpiresAt,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func validPercentage(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(decimal.NewFromInt(100))
}

// Create inserts a new coupon. Codes are stored normalized.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload couponPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, r, err)
		return
	}
	payload.Code = NormalizeCode(payload.Code)
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			common.WriteError(w, r, common.Validation("BAD_REQUEST", "invalid coupon payload", err).WithDetails(err.Error()))
			return
		}
	}
	if payload.DiscountPercentage == nil || !validPercentage(*payload.DiscountPercentage) {
		common.WriteError(w, r, common.Validation("BAD_REQUEST", "discountPercentage must be between 0 and 100", nil))
		return
	}
	active := true
	if payload.IsActive != nil {
		active = *payload.IsActive
	}
	c, err := h.Q.CreateCoupon(r.Context(), db.CreateCouponParams{
		Code:               payload.Code,
		DiscountPercentage: payload.DiscountPercentage.Round(2),
		IsActive:           active,
		ExpiresAt:          payload.ExpiresAt,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			common.WriteError(w, r, common.Conflict("CONFLICT", "coupon code already exists", err))
			return
		}
		common.WriteError(w, r, common.Upstream("INTERNAL", err))
		return
	}
	if h.Index != nil && c.IsActive {
		if err := h.Index.Announce(r.Context(), c.Code); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("code", c.Code).Msg("coupon announce failed")
		}
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": toView(c)})
}

// Update mutates an existing coupon identified by code.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	code := NormalizeCode(chi.URLParam(r, "code"))
	if code == "" {
		common.WriteError(w, r, common.Validation("BAD_REQUEST", "code is required", nil))
		return
	}
	var patch couponPatch
	if err := common.DecodeJSON(r, &patch); err != nil {
		common.WriteError(w, r, err)
		return
	}
	if patch.DiscountPercentage != nil {
		if !validPercentage(*patch.DiscountPercentage) {
			common.WriteError(w, r, common.Validation("BAD_REQUEST", "discountPercentage must be between 0 and 100", nil))
			return
		}
		rounded := patch.DiscountPercentage.Round(2)
		patch.DiscountPercentage = &rounded
	}
	c, err := h.Q.UpdateCoupon(r.Context(), db.UpdateCouponParams{
		Code:               code,
		DiscountPercentage: patch.DiscountPercentage,
		IsActive:           patch.IsActive,
		ExpiresAt:          patch.ExpiresAt,
		ClearExpiry:        patch.ClearExpiry,
	})
	if err != nil {
		if db.IsNotFound(err) {
			common.WriteError(w, r, common.NotFound("NOT_FOUND", "coupon not found"))
			return
		}
		common.WriteError(w, r, common.Upstream("INTERNAL", err))
		return
	}
	if h.Index != nil && c.IsActive {
		if err := h.Index.Announce(r.Context(), c.Code); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("code", c.Code).Msg("coupon announce failed")
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toView(c)})
}

// List returns coupons newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 50, 200)
	coupons, err := h.Q.ListCoupons(r.Context(), db.ListCouponsParams{
		Limit:  int32(perPage),
		Offset: int32(common.Offset(page, perPage)),
	})
	if err != nil {
		common.WriteError(w, r, common.Upstream("INTERNAL", err))
		return
	}
	out := make([]couponView, 0, len(coupons))
	for _, c := range coupons {
		out = append(out, toView(c))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out, "pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: len(out)}})
}

// Check answers whether a code is currently usable. It is the storefront's
// "apply coupon" probe and never reveals why a code was rejected.
func (h *Handler) Check(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimSpace(r.URL.Query().Get("code"))
		if code == "" {
			common.WriteError(w, r, common.Validation("BAD_REQUEST", "code is required", nil))
			return
		}
		c, found, err := svc.Lookup(r.Context(), code)
		if err != nil {
			common.WriteError(w, r, common.Upstream("INTERNAL", err))
			return
		}
		if !found {
			common.WriteError(w, r, common.Validation("INVALID_COUPON", "invalid or expired coupon", nil))
			return
		}
		common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"code":               c.Code,
			"discountPercentage": c.DiscountPercentage,
		}})
	}
}
