package climate

import (
	"testing"

	"tectonica.earth/internal/geo/field"
)

func TestLatitudeGradient(t *testing.T) {
	m := Default()
	elev := field.New(4, 9)
	temp := m.Temperature(elev)

	equator := temp.At(0, 4)
	pole := temp.At(0, 0)
	if equator != m.BaseTempC {
		t.Fatalf("equator temp = %v, want %v", equator, m.BaseTempC)
	}
	if pole >= equator {
		t.Fatalf("pole (%v) not colder than equator (%v)", pole, equator)
	}
	if want := m.BaseTempC - m.PoleDropC; pole != want {
		t.Fatalf("pole temp = %v, want %v", pole, want)
	}
}

func TestLapseRateCoolsHighGround(t *testing.T) {
	m := Default()
	elev := field.New(3, 3)
	elev.Set(1, 1, 2.0)
	temp := m.Temperature(elev)

	if high, low := temp.At(1, 1), temp.At(0, 1); high >= low {
		t.Fatalf("high ground (%v) not colder than sea level (%v)", high, low)
	}
	if want := m.BaseTempC - 2.0*m.LapseCPerUnit; temp.At(1, 1) != want {
		t.Fatalf("lapse temp = %v, want %v", temp.At(1, 1), want)
	}
}

func TestBelowSeaLevelNoLapse(t *testing.T) {
	m := Default()
	elev := field.New(3, 3)
	elev.Set(1, 1, -0.5)
	temp := m.Temperature(elev)
	if got := temp.At(1, 1); got != m.BaseTempC {
		t.Fatalf("submerged cell temp = %v, want base %v", got, m.BaseTempC)
	}
}
