package lateness

// InstallmentOption is one way to split an outstanding balance.
type InstallmentOption struct {
	Label        string  `json:"label"`
	Installments int     `json:"installments"`
	IntervalDays int     `json:"interval_days"`
	AmountEach   float64 `json:"amount_each"`
}

// InstallmentOptions produces the installment plans offered for an
// outstanding balance. Offered only once, at final warning, and only
// when the balance meets the configured minimum. Pure function.
func InstallmentOptions(outstanding, minimum float64) []InstallmentOption {
	if outstanding < minimum {
		return nil
	}
	shapes := []struct {
		label        string
		installments int
		intervalDays int
	}{
		{"2 weekly payments", 2, 7},
		{"4 weekly payments", 4, 7},
		{"2 biweekly payments", 2, 14},
	}
	options := make([]InstallmentOption, 0, len(shapes))
	for _, s := range shapes {
		each := Round2(outstanding / float64(s.installments))
		options = append(options, InstallmentOption{
			Label:        s.label,
			Installments: s.installments,
			IntervalDays: s.intervalDays,
			AmountEach:   each,
		})
	}
	return options
}
