package payout

// AccountResponse represents the API response for a recipient account.
type AccountResponse struct {
	Address     string `json:"address"`
	AccountCode string `json:"account_code"`
	Balance     int64  `json:"balance"`
}
