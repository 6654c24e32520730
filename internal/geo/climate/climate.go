package climate

import "tectonica.earth/internal/geo/field"

// Model derives a temperature field from elevation: a sea-level base,
// a latitude gradient from equator (grid middle) to the poles, and a
// lapse-rate cooling with height.
type Model struct {
	BaseTempC     float64
	PoleDropC     float64
	LapseCPerUnit float64
}

func Default() *Model {
	return &Model{
		BaseTempC:     22.0,
		PoleDropC:     40.0,
		LapseCPerUnit: 6.5,
	}
}

// Temperature builds a temperature field matching elev's dimensions.
func (m *Model) Temperature(elev *field.Field) *field.Field {
	w, h := elev.Width(), elev.Height()
	out := field.New(w, h)
	mid := float64(h-1) / 2
	if mid <= 0 {
		mid = 1
	}
	for y := 0; y < h; y++ {
		lat := float64(y) - mid
		if lat < 0 {
			lat = -lat
		}
		rowBase := m.BaseTempC - m.PoleDropC*(lat/mid)
		for x := 0; x < w; x++ {
			t := rowBase
			if e := elev.At(x, y); e > 0 {
				t -= e * m.LapseCPerUnit
			}
			out.Set(x, y, t)
		}
	}
	return out
}
