package tableorder

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/posvault/internal/model"
)

// validatePayment checks that payment settles total. Cash and card pay the
// whole amount; a split must list positive legs that sum to the total.
func validatePayment(p model.Payment, total decimal.Decimal) error {
	switch p.Method {
	case model.PaymentCash, model.PaymentCard:
		if len(p.Splits) > 0 {
			return fmt.Errorf("%w: %s payment cannot carry splits", ErrInvalidPayment, p.Method)
		}
		return nil
	case model.PaymentSplit:
		if len(p.Splits) < 2 {
			return fmt.Errorf("%w: split payment needs at least two legs", ErrInvalidPayment)
		}
		sum := decimal.Zero
		for _, leg := range p.Splits {
			if leg.Method != model.PaymentCash && leg.Method != model.PaymentCard {
				return fmt.Errorf("%w: split leg method %q", ErrInvalidPayment, leg.Method)
			}
			if !leg.Amount.IsPositive() {
				return fmt.Errorf("%w: split leg amount %s", ErrInvalidPayment, leg.Amount)
			}
			sum = sum.Add(leg.Amount)
		}
		if !sum.Equal(total) {
			return fmt.Errorf("%w: splits sum to %s, total is %s",
				ErrInvalidPayment, sum.StringFixed(2), total.StringFixed(2))
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown method %q", ErrInvalidPayment, p.Method)
	}
}
