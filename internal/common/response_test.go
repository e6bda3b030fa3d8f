package common_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
)

func TestWriteErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"validation", common.Validation("INSUFFICIENT_POINTS", "insufficient points", nil), http.StatusBadRequest, "INSUFFICIENT_POINTS", "insufficient points"},
		{"signature", common.SignatureMismatch(errors.New("x-verify")), http.StatusBadRequest, "INVALID_SIGNATURE", "signature verification failed"},
		{"upstream hides cause", common.Upstream("GATEWAY_ERROR", errors.New("dial tcp: secret host")), http.StatusInternalServerError, "GATEWAY_ERROR", "upstream service error"},
		{"auth", common.Unauthorized(""), http.StatusUnauthorized, "UNAUTHORIZED", "authentication required"},
		{"not found", common.NotFound("PENDING_ORDER_NOT_FOUND", "pending order not found"), http.StatusNotFound, "PENDING_ORDER_NOT_FOUND", "pending order not found"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL", "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			common.WriteError(rec, req, tc.err)
			require.Equal(t, tc.status, rec.Code)
			var body struct {
				Error common.ErrorBody `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.code, body.Error.Code)
			require.Equal(t, tc.message, body.Error.Message)
		})
	}
}

func TestWrappedAppErrorIsFound(t *testing.T) {
	base := common.Validation("INVALID_COUPON", "invalid or expired coupon", nil)
	wrapped := errors.Join(errors.New("context"), base)
	appErr, ok := common.AsAppError(wrapped)
	require.True(t, ok)
	require.Equal(t, common.KindValidation, appErr.Kind)
}
