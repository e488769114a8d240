package series

import (
	"encoding/json"
	"math"
	"testing"
)

func TestRawDaily_PickAliasesAndPrefersFirstPresent(t *testing.T) {
	raw := []byte(`{
		"time": ["2024-06-01", "2024-06-02", "2024-06-03"],
		"relativehumidity_2m_mean": [70.1, null, 55.5]
	}`)
	var d RawDaily
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	vals := d.Pick("relative_humidity_2m_mean", "relativehumidity_2m_mean")
	if len(vals) != 3 {
		t.Fatalf("len(vals)=%d want 3", len(vals))
	}
	if vals[0] == nil || *vals[0] != 70.1 {
		t.Fatalf("vals[0]=%v want 70.1", vals[0])
	}
	if vals[1] != nil {
		t.Fatalf("vals[1]=%v want nil (source null)", vals[1])
	}
	if vals[2] == nil || *vals[2] != 55.5 {
		t.Fatalf("vals[2]=%v want 55.5", vals[2])
	}
}

func TestNormalize_ScrubsNonFiniteAndNil(t *testing.T) {
	nan := math.NaN()
	inf := math.Inf(1)
	finite := 12.5
	out := normalize([]*float64{&finite, nil, &nan, &inf}, 4)
	if out[0] == nil || *out[0] != 12.5 {
		t.Fatalf("out[0]=%v want 12.5", out[0])
	}
	if out[1] != nil || out[2] != nil || out[3] != nil {
		t.Fatalf("non-finite/nil entries must normalize to nil, got %v", out)
	}
}

func TestRawDaily_Pick_MissingAliasReturnsNil(t *testing.T) {
	raw := []byte(`{"time": ["2024-06-01"]}`)
	var d RawDaily
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := d.Pick("not_present"); got != nil {
		t.Fatalf("Pick(missing)=%v want nil", got)
	}
}

func TestMean(t *testing.T) {
	a, b, c := 1.0, 2.0, 3.0
	mean, ok := Mean([]*float64{&a, nil, &b}, []*float64{&c})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if mean != 2.0 {
		t.Fatalf("mean=%v want 2.0", mean)
	}

	if _, ok := Mean(nil, []*float64{nil}); ok {
		t.Fatal("all-nil pools must report ok=false")
	}
}

func TestMinMax(t *testing.T) {
	a, b, c := 5.0, -1.0, 3.0
	min, max, ok := MinMax([]*float64{&a, nil}, []*float64{&b, &c})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if min != -1.0 || max != 5.0 {
		t.Fatalf("min=%v max=%v want -1.0/5.0", min, max)
	}

	if _, _, ok := MinMax([]*float64{nil}); ok {
		t.Fatal("all-nil pool must report ok=false")
	}
}

func TestSum(t *testing.T) {
	a, b := 10.0, 5.0
	sum, ok := Sum([]*float64{&a, nil, &b})
	if !ok || sum != 15.0 {
		t.Fatalf("Sum=%v ok=%v want 15.0/true", sum, ok)
	}

	if _, ok := Sum(nil); ok {
		t.Fatal("empty slice must report ok=false")
	}
}
