package status

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/openmlat/mlat-core/internal/geo"
)

// RenderCoveragePNG renders a scatter of receiver positions and a sample of
// recent fixes to path, for the coverage.json image overlay.
func RenderCoveragePNG(path string, receivers []geo.ECEF, fixes []geo.ECEF) error {
	p := plot.New()
	p.Title.Text = "MLAT Coverage"
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	receiverPts := make(plotter.XYs, len(receivers))
	for i, r := range receivers {
		llh := geo.ECEFToLLH(r)
		receiverPts[i].X = llh.Lon
		receiverPts[i].Y = llh.Lat
	}

	fixPts := make(plotter.XYs, len(fixes))
	for i, f := range fixes {
		llh := geo.ECEFToLLH(f)
		fixPts[i].X = llh.Lon
		fixPts[i].Y = llh.Lat
	}

	if err := plotutil.AddScatters(p, "receivers", receiverPts, "fixes", fixPts); err != nil {
		return err
	}

	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}
