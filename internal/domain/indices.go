package domain

import "math"

// NoData is the sentinel marking invalid pixels in float index rasters.
const NoData = -9999

// indexEpsilon keeps normalized-index denominators away from zero so a
// (0,0) pixel yields 0 instead of NaN.
const indexEpsilon = 1e-10

// Physical constants (CODATA 2018), matching the values used upstream.
const (
	planckConstant    = 6.62607015e-34 // J·s
	speedOfLight      = 299792458.0    // m/s
	boltzmannConstant = 1.380649e-23   // J/K
)

// NormalizedIndex computes (a-b)/(a+b+eps) element-wise. NaN results map to
// the no-data sentinel; infinities map to 0.
func NormalizedIndex(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		v := (a[i] - b[i]) / (a[i] + b[i] + indexEpsilon)
		switch {
		case math.IsNaN(v):
			out[i] = NoData
		case math.IsInf(v, 0):
			out[i] = 0
		default:
			out[i] = v
		}
	}
	return out
}

// vegetationFraction derives a vegetation-fraction proxy from NDVI by
// min-max normalization followed by squaring. A uniform NDVI has no
// contrast to normalize and yields all zeros.
func vegetationFraction(ndvi []float64) []float64 {
	out := make([]float64, len(ndvi))
	if len(ndvi) == 0 {
		return out
	}
	lo, hi := minMax(ndvi)
	if hi == lo {
		return out
	}
	for i, v := range ndvi {
		p := (v - lo) / (hi - lo)
		out[i] = p * p
	}
	return out
}

// SurfaceTemperature inverts the brightness-temperature relation for the
// thermal band using an emissivity derived from the vegetation fraction,
// then min-max normalizes the whole scene to [0,1]. The normalization makes
// values scene-relative: they are not absolute temperatures and cannot be
// compared across dates or tiles.
func SurfaceTemperature(ndvi, tir []float64, centerWavelengthMicrons float64) []float64 {
	waveLength := centerWavelengthMicrons * 1e-6
	rho := planckConstant * speedOfLight / boltzmannConstant

	pv := vegetationFraction(ndvi)
	out := make([]float64, len(tir))
	for i := range tir {
		emissivity := 0.004*pv[i] + 0.986
		if emissivity < 0.95 {
			emissivity = 0.95
		} else if emissivity > 0.99 {
			emissivity = 0.99
		}
		out[i] = tir[i] / (1 + (waveLength*tir[i]/rho)*math.Log(emissivity))
	}

	lo, hi := minMax(out)
	if hi == lo {
		return make([]float64, len(out))
	}
	for i := range out {
		out[i] = (out[i] - lo) / (hi - lo)
	}
	return out
}

// MaskedMean computes the element-wise mean over a stack of equally sized
// arrays, ignoring cells equal to the no-data sentinel in each contributor.
// Cells masked in every contributor are filled with the sentinel.
func MaskedMean(stack [][]float64, nodata float64) []float64 {
	if len(stack) == 0 {
		return nil
	}
	n := len(stack[0])
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		var count int
		for _, layer := range stack {
			v := layer[i]
			if v == nodata || math.IsNaN(v) {
				continue
			}
			sum += v
			count++
		}
		if count == 0 {
			out[i] = nodata
			continue
		}
		out[i] = sum / float64(count)
	}
	return out
}

func minMax(vals []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
