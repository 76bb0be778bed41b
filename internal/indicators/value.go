// Package indicators maintains per-symbol price windows and computes the
// core indicators strategies consume. Values carry an explicit validity flag
// so "not enough history yet" is distinguishable from a computed zero.
package indicators

// Value is an indicator result. Valid is false while the lookback window is
// still filling; Reason then says why.
type Value struct {
	Float64 float64
	Valid   bool
	Reason  string
}

// Some wraps a computed value.
func Some(v float64) Value {
	return Value{Float64: v, Valid: true}
}

// None marks a value that could not be computed.
func None(reason string) Value {
	return Value{Reason: reason}
}
