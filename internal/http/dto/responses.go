package dto

type AuthChallengeResponse struct {
	Challenge string `json:"challenge"`
}

type AuthResponse struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type BalanceResponse struct {
	Identity string `json:"identity"`
	Balance  uint64 `json:"balance"`
}
