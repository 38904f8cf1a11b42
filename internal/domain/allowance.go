package domain

// AllowanceStatus is the allowance tracker's answer for one user and one
// day. Amounts are in display units of the capped token. The cap is
// per-user: spend across all of the user's strategies counts against it.
type AllowanceStatus struct {
	HasAllowance bool    `json:"has_allowance"`
	DailyLimit   float64 `json:"daily_limit"`
	SpentToday   float64 `json:"spent_today"`
	Remaining    float64 `json:"remaining"`
}
