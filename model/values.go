package model

// Float64 returns a pointer to v, for populating nullable columns.
func Float64(v float64) *float64 {
	return &v
}

// Float64Value returns the value held by p and whether it was set.
func Float64Value(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}
