package consumption

import (
	"testing"

	"github.com/local/printpreview/internal/imposition"
	"github.com/local/printpreview/internal/pagerange"
)

func plan(t *testing.T, pages, perSheet int) *imposition.Plan {
	t.Helper()
	cfg := imposition.DefaultConfig()
	cfg.PagesPerSheet = perSheet
	p, err := imposition.Build(pagerange.All(pages), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name     string
		pages    int
		perSheet int
		duplex   bool
		copies   int
		sheets   int
		want     int
	}{
		{"ten pages 2-up", 10, 2, false, 1, 5, 5},
		{"ten pages 2-up duplex", 10, 2, true, 1, 5, 3},
		{"ten pages 2-up three copies", 10, 2, false, 3, 5, 15},
		{"ten pages 2-up duplex three copies", 10, 2, true, 3, 5, 9},
		{"single page duplex", 1, 1, true, 1, 1, 1},
		{"zero copies treated as one", 4, 4, false, 0, 1, 1},
		{"negative copies treated as one", 7, 1, false, -2, 7, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := plan(t, tt.pages, tt.perSheet)
			if p.TotalSheets != tt.sheets {
				t.Fatalf("TotalSheets = %d, want %d", p.TotalSheets, tt.sheets)
			}
			est, ok := Calculate(p, tt.duplex, tt.copies)
			if !ok {
				t.Fatal("expected an estimate")
			}
			if est.Total != tt.want {
				t.Errorf("Total = %d, want %d", est.Total, tt.want)
			}
			if est.Total < 1 {
				t.Error("estimate must be positive when a plan exists")
			}
		})
	}
}

func TestCalculateWithoutPlan(t *testing.T) {
	if est, ok := Calculate(nil, true, 3); ok || est.Total != 0 {
		t.Fatalf("got %+v, %v; want no estimate", est, ok)
	}
}

func TestEstimateString(t *testing.T) {
	est, _ := Calculate(plan(t, 3, 1), false, 2)
	if got := est.String(); got != "Estimated consumption: 6 sheet(s)" {
		t.Errorf("String() = %q", got)
	}
}
