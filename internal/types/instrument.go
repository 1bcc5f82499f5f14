package types

// InstrumentClass is a closed enum of the instrument categories the engine
// trades. Margin-segment selection is driven by this enum through an explicit
// mapping table rather than by matching on symbol strings.
type InstrumentClass string

const (
	InstrumentEquity          InstrumentClass = "EQUITY"
	InstrumentDerivativeIndex InstrumentClass = "DERIVATIVE_INDEX"
	InstrumentDerivativeStock InstrumentClass = "DERIVATIVE_STOCK"
)

// MarginSegment is a brokerage account partition with its own available-funds
// balance. Exchange-traded equities and derivatives share one margin pool,
// distinct from the commodity-derivative pool.
type MarginSegment string

const (
	SegmentEquity    MarginSegment = "EQUITY"
	SegmentCommodity MarginSegment = "COMMODITY"
)

// segmentTable maps each instrument class to the account segment that backs
// it. Every class must appear here; SegmentFor falls back to the equity pool
// for unknown classes because all supported classes are exchange traded.
var segmentTable = map[InstrumentClass]MarginSegment{
	InstrumentEquity:          SegmentEquity,
	InstrumentDerivativeIndex: SegmentEquity,
	InstrumentDerivativeStock: SegmentEquity,
}

// SegmentFor returns the margin segment that backs the given instrument class.
func SegmentFor(class InstrumentClass) MarginSegment {
	if segment, ok := segmentTable[class]; ok {
		return segment
	}

	return SegmentEquity
}

// MarginBalance is the available margin reported by the brokerage for a
// single account segment.
type MarginBalance struct {
	Segment   MarginSegment `json:"segment" yaml:"segment"`
	Available float64       `json:"available" yaml:"available"`
}
