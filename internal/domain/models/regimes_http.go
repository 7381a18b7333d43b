package models

// CurrentRegimeRequest queries the confirmed state for one pair.
type CurrentRegimeRequest struct {
	Symbol string `query:"symbol" validate:"required"`
	TF     string `query:"tf" default:"1Min" validate:"oneof=1Min 5Min 15Min 1Hour 1Day"`
}

// AllRegimesRequest queries all fresh states for a symbol.
type AllRegimesRequest struct {
	Symbol string `query:"symbol" validate:"required"`
}

// RegimeHistoryRequest queries persisted outputs for a pair.
type RegimeHistoryRequest struct {
	Symbol string `query:"symbol" validate:"required"`
	TF     string `query:"tf" default:"1Min" validate:"oneof=1Min 5Min 15Min 1Hour 1Day"`
	From   string `query:"from"`
	To     string `query:"to"`
	Limit  int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

// InferRequest runs one ad-hoc feature map through a throwaway engine.
type InferRequest struct {
	Symbol   string             `json:"symbol" validate:"required"`
	TF       string             `json:"tf" default:"1Min" validate:"oneof=1Min 5Min 15Min 1Hour 1Day"`
	T        int64              `json:"t" validate:"required,gt=0"`
	Features map[string]float64 `json:"features" validate:"required,min=1"`
}

// InferResponse carries the diagnostic result: raw posterior plus the
// latent projection the engine saw.
type InferResponse struct {
	Output *HMMOutput    `json:"output"`
	Latent *LatentVector `json:"latent"`
}

// BackfillRequest enqueues a historical replay for one pair.
type BackfillRequest struct {
	Symbol string `json:"symbol" validate:"required"`
	TF     string `json:"tf" validate:"required,oneof=1Min 5Min 15Min 1Hour 1Day"`
	From   string `json:"from" validate:"required"`
	To     string `json:"to" validate:"required"`
}

// ResetRequest clears live hysteresis state for a symbol.
type ResetRequest struct {
	Symbol string `json:"symbol" validate:"required"`
}
