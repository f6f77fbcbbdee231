package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"tracel-engine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threatRecord(owner, ip string, score float64, vector string, ts time.Time) model.Record {
	sc := score
	return model.Record{
		Packet: model.Packet{
			ID:        ip + ts.Format(time.RFC3339Nano),
			OwnerID:   owner,
			SourceIP:  ip,
			Timestamp: ts,
		},
		Scored:        true,
		AnomalyScore:  &sc,
		IsAnomaly:     true,
		AttackVector:  vector,
		SourceCountry: model.CountryForIP(ip),
	}
}

func TestBuildThreatIntelAggregates(t *testing.T) {
	now := time.Now().UTC()
	var records []model.Record

	// 1.x.x.x dominates; mixed vectors; one benign record that must be
	// excluded from every aggregate.
	for i := 0; i < 4; i++ {
		records = append(records, threatRecord("owner-a", "1.2.3.4", 0.10, model.VectorVolumetric, now.Add(time.Duration(i)*time.Minute)))
	}
	records = append(records, threatRecord("owner-a", "45.77.1.9", 0.30, model.VectorApplication, now))
	records = append(records, threatRecord("owner-a", "98.11.2.2", 0.50, model.VectorProtocol, now))
	records = append(records, model.Record{
		Packet: model.Packet{ID: "benign", OwnerID: "owner-a", SourceIP: "8.8.8.8", Timestamp: now},
		Scored: true,
	})

	report := buildThreatIntel("owner-a", 24, records)

	assert.Equal(t, "owner-a", report.OwnerID)
	assert.Equal(t, 24, report.WindowHours)
	assert.Equal(t, 7, report.SampleSize)
	assert.Equal(t, 6, report.TotalThreats)

	require.NotEmpty(t, report.TopHostileIPs)
	assert.Equal(t, "1.2.3.4", report.TopHostileIPs[0].IP)
	assert.Equal(t, 4, report.TopHostileIPs[0].Count)
	assert.Equal(t, now.Add(3*time.Minute), report.TopHostileIPs[0].LastSeen)

	assert.Equal(t, 4, report.VectorDistribution[model.VectorVolumetric])
	assert.Equal(t, 1, report.VectorDistribution[model.VectorApplication])
	assert.Equal(t, 1, report.VectorDistribution[model.VectorProtocol])

	require.NotEmpty(t, report.GeoTopCountries)
	assert.Equal(t, model.CountryForIP("1.2.3.4"), report.GeoTopCountries[0].Country)
	assert.InDelta(t, 66.67, report.GeoTopCountries[0].Pct, 0.01)
}

func TestBuildThreatIntelTopFiveOnly(t *testing.T) {
	now := time.Now().UTC()
	var records []model.Record
	ips := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4", "5.5.5.5", "6.6.6.6", "7.7.7.7"}
	for n, ip := range ips {
		for i := 0; i <= n; i++ {
			records = append(records, threatRecord("owner-a", ip, 0.2, model.VectorProtocol, now.Add(time.Duration(i)*time.Second)))
		}
	}

	report := buildThreatIntel("owner-a", 24, records)

	require.Len(t, report.TopHostileIPs, 5)
	assert.Equal(t, "7.7.7.7", report.TopHostileIPs[0].IP)
	assert.Equal(t, 7, report.TopHostileIPs[0].Count)
	assert.LessOrEqual(t, len(report.GeoTopCountries), 5)
}

func TestConfidenceBucketsQuantiles(t *testing.T) {
	scores := []float64{0.05, 0.10, 0.20, 0.30, 0.40, 0.50, 0.60, 0.70, 0.80, 0.90}

	buckets := bucketConfidence(scores, len(scores))

	total := buckets[ConfidenceObvious] + buckets[ConfidenceSubtle] + buckets[ConfidenceOther]
	assert.Equal(t, len(scores), total)
	assert.Equal(t, 2, buckets[ConfidenceObvious])
	assert.Equal(t, 4, buckets[ConfidenceSubtle])
	assert.Equal(t, 4, buckets[ConfidenceOther])
}

func TestConfidenceBucketsDegenerateRange(t *testing.T) {
	// With no usable spread, quantiles say nothing; everything stays in
	// Other.
	buckets := bucketConfidence([]float64{0.42, 0.42, 0.42}, 3)
	assert.Zero(t, buckets[ConfidenceObvious])
	assert.Zero(t, buckets[ConfidenceSubtle])
	assert.Equal(t, 3, buckets[ConfidenceOther])

	buckets = bucketConfidence(nil, 0)
	assert.Zero(t, buckets[ConfidenceObvious])
	assert.Zero(t, buckets[ConfidenceOther])
}

func TestConfidenceBucketsCountUnscoredThreatsAsOther(t *testing.T) {
	// Five threats, two without a score: quantiles split the scored
	// three, the unscored two stay in Other, totals always add up.
	buckets := bucketConfidence([]float64{0.1, 0.5, 0.9}, 5)
	total := buckets[ConfidenceObvious] + buckets[ConfidenceSubtle] + buckets[ConfidenceOther]
	assert.Equal(t, 5, total)
	assert.Equal(t, 1, buckets[ConfidenceObvious])
	assert.Equal(t, 1, buckets[ConfidenceSubtle])
	assert.Equal(t, 3, buckets[ConfidenceOther])
}

func TestBuildThreatIntelUnscoredThreatInBuckets(t *testing.T) {
	now := time.Now().UTC()
	unscored := model.Record{
		Packet:    model.Packet{ID: "u-1", OwnerID: "owner-a", SourceIP: "6.6.6.6", Timestamp: now},
		IsAnomaly: true,
	}

	report := buildThreatIntel("owner-a", 24, []model.Record{unscored})

	assert.Equal(t, 1, report.TotalThreats)
	assert.Equal(t, 1, report.ConfidenceBuckets[ConfidenceOther])
	assert.Zero(t, report.ConfidenceBuckets[ConfidenceObvious])
}

func TestGetThreatIntelClampsWindow(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	seedRecord(t, f.store, threatRecord("owner-a", "1.2.3.4", 0.1, model.VectorProtocol, now))
	// Outside any permissible window.
	seedRecord(t, f.store, threatRecord("owner-a", "5.5.5.5", 0.1, model.VectorProtocol, now.Add(-200*time.Hour)))

	// Out-of-range values clamp to the nearest bound, unparseable ones
	// fall back to the default.
	rec := f.do(t, http.MethodGet, "/api/v1/reports/threat-intel?owner=owner-a&sinceHours=500&limit=garbage", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report threatIntelReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, MaxReportHours, report.WindowHours)
	assert.Equal(t, 1, report.TotalThreats)

	rec = f.do(t, http.MethodGet, "/api/v1/reports/threat-intel?owner=owner-a&sinceHours=-3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.WindowHours)

	rec = f.do(t, http.MethodGet, "/api/v1/reports/threat-intel?owner=owner-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, DefaultReportHours, report.WindowHours)

	rec = f.do(t, http.MethodGet, "/api/v1/reports/threat-intel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetThreatIntelBenignRecordsDoNotConsumeLimit(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	// The anomaly is the oldest record; a naive mixed query with limit 1
	// would fetch only the newest benign record and report no threats.
	seedRecord(t, f.store, threatRecord("owner-a", "1.2.3.4", 0.1, model.VectorProtocol, now.Add(-time.Minute)))
	for i := 0; i < 3; i++ {
		seedRecord(t, f.store, model.Record{
			Packet: model.Packet{
				ID:        fmt.Sprintf("benign-%d", i),
				OwnerID:   "owner-a",
				SourceIP:  "8.8.8.8",
				Timestamp: now.Add(time.Duration(i) * time.Second),
			},
			Scored: true,
		})
	}

	rec := f.do(t, http.MethodGet, "/api/v1/reports/threat-intel?owner=owner-a&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report threatIntelReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.TotalThreats)
	assert.Equal(t, 1, report.SampleSize)
	require.Len(t, report.TopHostileIPs, 1)
	assert.Equal(t, "1.2.3.4", report.TopHostileIPs[0].IP)
}
