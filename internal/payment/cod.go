package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

// COD is cash on delivery. No external call is made and the order is
// finalized as soon as it is staged.
type COD struct{}

func (COD) Name() string                  { return db.MethodCOD }
func (COD) DiscountRate() decimal.Decimal { return decimal.Zero }

func (COD) CreateSession(_ context.Context, req SessionRequest) (Session, error) {
	return Session{Provider: db.MethodCOD, Immediate: true, GatewayRef: req.TransactionID}, nil
}

func (COD) VerifyCallback(*http.Request, []byte) (CallbackResult, error) {
	return CallbackResult{}, errors.New("payment: cod has no callbacks")
}

// FetchStatus always reports failed: a COD attempt still pending after
// staging never reached finalization.
func (COD) FetchStatus(context.Context, string, string) (Status, error) {
	return StatusFailed, nil
}
