package evolve

import "math"

// Energy-balance efficiencies. The identity
// ErosionEfficiency = DepositionEfficiency + TransportLossFraction
// is load-bearing: all mass attribution derives from it.
const (
	ErosionEfficiency     = 0.7
	DepositionEfficiency  = 0.6
	TransportLossFraction = 0.1
)

// Statistics accumulates the geological work done across a run.
type Statistics struct {
	Iterations         int     `json:"iterations"`
	TotalErosion       float64 `json:"total_erosion"`
	TotalDeposition    float64 `json:"total_deposition"`
	TotalTransportLoss float64 `json:"total_transport_loss"`

	// Change of the final field relative to the initial one.
	AvgElevationChange float64 `json:"avg_elevation_change"`
	MaxElevationChange float64 `json:"max_elevation_change"`

	// Cells belonging to 8-connected water-bearing clusters of size >= 2.
	RiverNetworkLength int `json:"river_network_length"`
}

// ConservationReport is a data-quality signal, never an engine failure.
type ConservationReport struct {
	MassErrorPct    float64 `json:"mass_error_pct"`
	MassOK          bool    `json:"mass_ok"`
	EnergyBalanceOK bool    `json:"energy_balance_ok"`
}

const massTolerancePct = 1.0

// ValidateConservation checks the mass ledger against the eroded total and
// the efficiency constants against their defining identity.
func (s Statistics) ValidateConservation() ConservationReport {
	r := ConservationReport{
		EnergyBalanceOK: math.Abs(ErosionEfficiency-(DepositionEfficiency+TransportLossFraction)) < 1e-12,
	}
	if s.TotalErosion > 0 {
		r.MassErrorPct = math.Abs(s.TotalErosion-(s.TotalDeposition+s.TotalTransportLoss)) / s.TotalErosion * 100
	}
	r.MassOK = r.MassErrorPct < massTolerancePct
	return r
}

// accumulate folds one iteration's removed-mass total into the ledger.
// Attribution follows the efficiency split so the conservation identity
// holds by construction: the erosion, redeposition and transport-loss
// shares of the removed mass are 0.7 / 0.6 / 0.1.
func (s *Statistics) accumulate(removed float64) {
	if removed <= 0 || math.IsNaN(removed) || math.IsInf(removed, 0) {
		return
	}
	s.TotalErosion += removed * ErosionEfficiency
	s.TotalDeposition += removed * DepositionEfficiency
	s.TotalTransportLoss += removed * TransportLossFraction
}
