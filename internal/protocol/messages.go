package protocol

// SubscribeMsg is the observer handshake: it must be the first message on
// the socket.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// FieldEvery requests a quantized elevation frame every N progress
	// reports; 0 means progress-only.
	FieldEvery int `json:"field_every,omitempty"`
}

// BootstrapResponse is served over plain HTTP before the socket opens.
type BootstrapResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	PlateCount      int    `json:"plate_count"`
	Seed            int64  `json:"seed"`
	Iterations      int    `json:"iterations"`
}

// ProgressMsg streams the driver's periodic run snapshot.
type ProgressMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Iteration   int     `json:"iteration"`
	TotalChange float64 `json:"total_change"`
	AvgChange   float64 `json:"avg_change"`
	MaxChange   float64 `json:"max_change"`
	ActiveCells int     `json:"active_cells"`
	Converged   bool    `json:"converged"`

	TotalErosion    float64 `json:"total_erosion"`
	TotalDeposition float64 `json:"total_deposition"`
}

// FieldFrameMsg carries a quantized, run-length-encoded elevation field.
type FieldFrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Iteration int     `json:"iteration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Lo        float64 `json:"lo"`
	Hi        float64 `json:"hi"`
	Cells     string  `json:"cells"` // base64(varint RLE) of 16-bit cells
}

// RunCompleteMsg closes the stream with the final accounting.
type RunCompleteMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Iterations         int     `json:"iterations"`
	Converged          bool    `json:"converged"`
	ConvergedAt        int     `json:"converged_at,omitempty"`
	ConvergenceRatio   float64 `json:"convergence_ratio,omitempty"`
	TotalErosion       float64 `json:"total_erosion"`
	TotalDeposition    float64 `json:"total_deposition"`
	TotalTransportLoss float64 `json:"total_transport_loss"`
	MassErrorPct       float64 `json:"mass_error_pct"`
	EnergyBalanceOK    bool    `json:"energy_balance_ok"`
	RiverNetworkLength int     `json:"river_network_length"`
}
