package dtree

// Training sets are generated from expert-authored labelling functions over
// a fixed grid of soil, crop and location values, so every process fits the
// same trees.

func grid(axes ...[]float64) [][]float64 {
	rows := [][]float64{{}}
	for _, axis := range axes {
		next := make([][]float64, 0, len(rows)*len(axis))
		for _, row := range rows {
			for _, v := range axis {
				r := make([]float64, len(row), len(row)+1)
				copy(r, row)
				next = append(next, append(r, v))
			}
		}
		rows = next
	}
	return rows
}

func steps(from, to, step float64) []float64 {
	var out []float64
	for v := from; v <= to+1e-9; v += step {
		out = append(out, v)
	}
	return out
}

func cropSuitabilityLabel(ph, om, p, k, lat float64) string {
	switch {
	case ph >= 6.8 && k >= 150:
		return "alfalfa"
	case lat >= 45:
		return "wheat"
	case ph < 5.8:
		return "wheat"
	case om >= 3 && p >= 20:
		return "corn"
	default:
		return "soybean"
	}
}

func CropSuitabilityData() Dataset {
	d := Dataset{Features: []string{"soil_ph", "organic_matter_percent", "phosphorus_ppm", "potassium_ppm", "latitude"}}
	d.X = grid(
		steps(4.5, 8.0, 0.5),
		[]float64{1, 2, 3, 4, 5},
		[]float64{10, 20, 30, 45},
		[]float64{90, 130, 170, 220},
		[]float64{38, 42, 46},
	)
	for _, r := range d.X {
		d.Labels = append(d.Labels, cropSuitabilityLabel(r[0], r[1], r[2], r[3], r[4]))
	}
	return d
}

// nitrogenRate follows the yield-goal method: 1.2 lb N per bushel, less
// organic matter mineralisation, residual nitrate and legume credits.
// Targets are left unclamped; the model bounds its output.
func nitrogenRate(yieldGoal, om, nitrate, legume float64) float64 {
	return 1.2*yieldGoal - 10*om - 2*nitrate - 40*legume
}

func NitrogenRateData() Dataset {
	d := Dataset{Features: []string{"yield_goal", "organic_matter_percent", "nitrogen_ppm", "previous_crop_legume"}}
	d.X = grid(
		steps(100, 260, 20),
		[]float64{1, 2, 3, 4, 5},
		[]float64{0, 10, 20, 30},
		[]float64{0, 1},
	)
	for _, r := range d.X {
		d.Targets = append(d.Targets, nitrogenRate(r[0], r[1], r[2], r[3]))
	}
	return d
}

func soilManagementLabel(ph, om, p, k float64) string {
	switch {
	case ph < 6.0:
		return "lime_application"
	case ph > 7.8:
		return "acidification"
	case om < 2.0:
		return "organic_matter_building"
	case p < 15:
		return "phosphorus_buildup"
	case k < 120:
		return "potassium_buildup"
	default:
		return "maintenance"
	}
}

func SoilManagementData() Dataset {
	d := Dataset{Features: []string{"soil_ph", "organic_matter_percent", "phosphorus_ppm", "potassium_ppm"}}
	d.X = grid(
		steps(4.5, 8.5, 0.5),
		[]float64{0.5, 1.5, 2.5, 3.5, 5},
		[]float64{5, 10, 20, 35, 60},
		[]float64{60, 100, 140, 200, 260},
	)
	for _, r := range d.X {
		d.Labels = append(d.Labels, soilManagementLabel(r[0], r[1], r[2], r[3]))
	}
	return d
}
