package gateway

import "autotrader-simv1/internal/model"

// StatusRequest is the body of POST /strategies/{id}/status.
type StatusRequest struct {
	Status model.StrategyStatus `json:"status"`
}

// CommandRequest is the optional body of the engine command endpoints.
type CommandRequest struct {
	Reason string `json:"reason"`
}
