package scoring

// Request shape we send to the upstream provider.
type providerScoreRequest struct {
	ProductID       string  `json:"productId"`
	WeightingConfig Weights `json:"weightingConfig,omitempty"`
}

// Error body some providers return alongside a non-2xx status.
// Both {"error":"..."} and {"error":{"message":"..."}} are seen in practice.
type providerErrorResponse struct {
	Error   any    `json:"error"`
	Message string `json:"message,omitempty"`
}

func (p providerErrorResponse) reason() string {
	switch v := p.Error.(type) {
	case string:
		return v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return p.Message
}
