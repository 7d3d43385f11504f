// Package domain models the satellite index pipeline's core concepts.
//
// # Spatial model
//
// An area of interest (AOI) is a WGS-84 bounding box. For imagery requests it
// is projected into the UTM zone of its centroid and split into a grid of
// square tiles of a configurable edge length. Each tile is the unit of a
// single imagery retrieval; its identifier is an MD5 hash of
//
//	<min_x>_<min_y>_<max_x>_<max_y>_<date>
//
// so the same tile bbox and date always map to the same download directory.
// That determinism is what makes re-runs cheap: a (tile, date) pair whose
// directory already holds both request.json and response.tiff is never
// requested again.
//
// # Sensors and bands
//
// Each supported sensor (Sentinel-2 L2A, Landsat OT L2) carries a Strategy:
// an ordered band list parsed from its evalscript resource, a mapping from
// declared band names to generic roles (red, nir, swir, tir), and the set of
// indices it can compute. The raster delivered by the provider must contain
// exactly the declared bands in the declared order; a mismatch fails the
// affected date instead of silently binding the wrong band to a role.
//
// # Indices
//
// Normalized-difference indices use (a-b)/(a+b+1e-10); NaN results become
// the -9999 no-data sentinel and infinities become 0. Land surface
// temperature derives a vegetation-fraction proxy from min-max normalized
// NDVI squared, an emissivity of 0.004*Pv+0.986 clipped to [0.95, 0.99],
// and inverts the brightness-temperature relation with the sensor's thermal
// center wavelength. The resulting temperature array is min-max normalized
// per scene, so LST values are comparable only within one scene, not across
// dates or tiles.
//
// # Aggregation
//
// Per-date index rasters are grouped into yearly and monthly cohorts by the
// date embedded in their file names (<index>_<YYYY-MM-DD>.tiff). A cohort
// composite is the element-wise mean over all member rasters, ignoring
// no-data cells per contributor; cells masked in every contributor are
// filled with the no-data sentinel.
package domain
