package handlers

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"tracel-engine/internal/model"
	"tracel-engine/internal/storage"
)

// Report window bounds.
const (
	DefaultReportHours = 24
	MaxReportHours     = 168
	DefaultReportLimit = 10000
	MaxReportLimit     = 50000
)

// Confidence bucket names. Scores at or below the 20th percentile of the
// window's threat scores are obvious attacks; up to the 60th, subtle.
const (
	ConfidenceObvious = "Obvious"
	ConfidenceSubtle  = "Subtle"
	ConfidenceOther   = "Other"
)

// degenerateScoreRange is the spread below which quantile bucketing is
// meaningless and every threat stays in the Other bucket.
const degenerateScoreRange = 1e-9

type hostileIP struct {
	IP       string    `json:"ip"`
	Country  string    `json:"country"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

type countryCount struct {
	Country string  `json:"country"`
	Count   int     `json:"count"`
	Pct     float64 `json:"pct"`
}

type threatIntelReport struct {
	OwnerID      string    `json:"owner_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	WindowHours  int       `json:"window_hours"`
	SampleSize   int       `json:"sample_size"`
	TotalThreats int       `json:"total_threats"`

	TopHostileIPs      []hostileIP    `json:"top_hostile_ips"`
	VectorDistribution map[string]int `json:"attack_vector_distribution"`
	GeoTopCountries    []countryCount `json:"geo_top_countries"`
	ConfidenceBuckets  map[string]int `json:"confidence_buckets"`
}

// GetThreatIntel summarizes persisted anomalies for an owner over a
// recent window: top hostile sources, vector and geo distribution, and
// AI-confidence buckets.
func (h *Handlers) GetThreatIntel(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	hours := clampIntParam(r.URL.Query().Get("sinceHours"), DefaultReportHours, 1, MaxReportHours)
	limit := clampIntParam(r.URL.Query().Get("limit"), DefaultReportLimit, 1, MaxReportLimit)

	// Only anomalies feed the report, so benign records must not consume
	// the sample limit.
	records, err := h.store.Query(r.Context(), storage.Filter{
		Owner:         owner,
		AnomaliesOnly: true,
		Since:         time.Now().Add(-time.Duration(hours) * time.Hour),
		Limit:         limit,
	})
	if err != nil {
		h.logger.Errorf("Threat-intel query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Query failed")
		return
	}

	writeJSON(w, http.StatusOK, buildThreatIntel(owner, hours, records))
}

// clampIntParam parses an integer query parameter, clamping out-of-range
// values to the nearest bound. Absent or unparseable values fall back to
// the default.
func clampIntParam(raw string, def, min, max int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func buildThreatIntel(owner string, hours int, records []model.Record) threatIntelReport {
	report := threatIntelReport{
		OwnerID:     owner,
		GeneratedAt: time.Now().UTC(),
		WindowHours: hours,
		SampleSize:  len(records),
		VectorDistribution: map[string]int{
			model.VectorVolumetric:  0,
			model.VectorProtocol:    0,
			model.VectorApplication: 0,
		},
		TopHostileIPs:     []hostileIP{},
		GeoTopCountries:   []countryCount{},
		ConfidenceBuckets: map[string]int{},
	}

	ipCounts := make(map[string]*hostileIP)
	geoCounts := make(map[string]int)
	var scores []float64

	for _, rec := range records {
		if !rec.IsAnomaly {
			continue
		}
		report.TotalThreats++

		entry, ok := ipCounts[rec.SourceIP]
		if !ok {
			entry = &hostileIP{
				IP:      rec.SourceIP,
				Country: model.CountryForIP(rec.SourceIP),
			}
			ipCounts[rec.SourceIP] = entry
		}
		entry.Count++
		if rec.Timestamp.After(entry.LastSeen) {
			entry.LastSeen = rec.Timestamp
		}

		vector := rec.AttackVector
		if vector == "" {
			vector = model.ClassifyAttackVector(rec.Method, rec.Bytes)
		}
		report.VectorDistribution[vector]++

		geoCounts[model.CountryForIP(rec.SourceIP)]++

		if rec.AnomalyScore != nil {
			scores = append(scores, *rec.AnomalyScore)
		}
	}

	for _, entry := range ipCounts {
		report.TopHostileIPs = append(report.TopHostileIPs, *entry)
	}
	sort.Slice(report.TopHostileIPs, func(i, j int) bool {
		a, b := report.TopHostileIPs[i], report.TopHostileIPs[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.IP < b.IP
	})
	if len(report.TopHostileIPs) > 5 {
		report.TopHostileIPs = report.TopHostileIPs[:5]
	}

	for country, count := range geoCounts {
		pct := 0.0
		if report.TotalThreats > 0 {
			pct = math.Round(float64(count)/float64(report.TotalThreats)*10000) / 100
		}
		report.GeoTopCountries = append(report.GeoTopCountries, countryCount{
			Country: country,
			Count:   count,
			Pct:     pct,
		})
	}
	sort.Slice(report.GeoTopCountries, func(i, j int) bool {
		a, b := report.GeoTopCountries[i], report.GeoTopCountries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Country < b.Country
	})
	if len(report.GeoTopCountries) > 5 {
		report.GeoTopCountries = report.GeoTopCountries[:5]
	}

	report.ConfidenceBuckets = bucketConfidence(scores, report.TotalThreats)
	return report
}

// bucketConfidence splits threat scores on the window's own 20th and 60th
// percentiles. Lower scores mean stronger anomalies, so the bottom
// quintile is the obvious bucket. Every threat starts in Other: unscored
// threats stay there, and so does the whole window when the score spread
// is too narrow for quantiles to mean anything.
func bucketConfidence(scores []float64, total int) map[string]int {
	buckets := map[string]int{
		ConfidenceObvious: 0,
		ConfidenceSubtle:  0,
		ConfidenceOther:   total,
	}
	if len(scores) == 0 {
		return buckets
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	if sorted[len(sorted)-1]-sorted[0] < degenerateScoreRange {
		return buckets
	}

	q20 := quantile(sorted, 0.20)
	q60 := quantile(sorted, 0.60)

	for _, s := range scores {
		switch {
		case s <= q20:
			buckets[ConfidenceObvious]++
			buckets[ConfidenceOther]--
		case s <= q60:
			buckets[ConfidenceSubtle]++
			buckets[ConfidenceOther]--
		}
	}
	return buckets
}

// quantile interpolates linearly between the two nearest ranks of an
// already sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
