package portfolio

// CommissionModel calculates the fee charged for executing an order.
type CommissionModel interface {
	// Calculate returns the fee in account currency for a given executed quantity.
	Calculate(quantity float64) float64
}

// Model names accepted in configuration.
const (
	CommissionZero = "zero"
	CommissionFlat = "flat"
)

// ZeroCommission charges nothing.
type ZeroCommission struct{}

// NewZeroCommission creates a commission model that always returns zero.
func NewZeroCommission() CommissionModel {
	return &ZeroCommission{}
}

func (c *ZeroCommission) Calculate(_ float64) float64 {
	return 0
}

// FlatCommission charges a fixed fee per executed order regardless of size.
type FlatCommission struct {
	fee float64
}

// NewFlatCommission creates a commission model with a fixed per-order fee.
func NewFlatCommission(fee float64) CommissionModel {
	return &FlatCommission{fee: fee}
}

func (c *FlatCommission) Calculate(quantity float64) float64 {
	if quantity <= 0 {
		return 0
	}

	return c.fee
}

// GetCommissionModel resolves a configured model name. Unknown names fall back
// to zero commission.
func GetCommissionModel(model string, flatFee float64) CommissionModel {
	switch model {
	case CommissionFlat:
		return NewFlatCommission(flatFee)
	case CommissionZero:
		return NewZeroCommission()
	default:
		return NewZeroCommission()
	}
}
