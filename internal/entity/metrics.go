// Structure of Beacon gateway counters.

package entity

type Metrics struct {
	// Lifetime count of accepted websocket connections
	Connected int64 `json:"connected" redis:"connected"`
	// Lifetime count of failed live-dispatch pushes
	DispatchErrors int64 `json:"dispatch_errors" redis:"dispatch_errors"`
}
