package model

import (
	"strconv"
	"strings"
	"time"
)

// Packet represents a single raw traffic observation before classification.
// A packet is immutable once emitted; it lives for exactly one pipeline pass.
type Packet struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	SourceIP  string    `json:"source_ip"`
	DestIP    string    `json:"dest_ip"`
	DestPort  int       `json:"dest_port"`
	Protocol  string    `json:"protocol"` // TCP, UDP, ICMP, HTTP
	Method    string    `json:"method,omitempty"`
	Bytes     int       `json:"bytes"`
	Entropy   float64   `json:"entropy"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is a classified packet as published to subscribers and handed to
// storage. Nullable statistics use pointers so an unwarmed baseline
// serializes as null rather than zero.
type Record struct {
	Packet

	Scored       bool     `json:"scored"`
	AnomalyScore *float64 `json:"anomaly_score,omitempty"`
	IsAnomaly    bool     `json:"is_anomaly"`

	AttackVector  string `json:"attack_vector"`
	SourceCountry string `json:"source_country"`

	AnomalyThreshold *float64 `json:"anomaly_threshold"`
	AnomalyMean      *float64 `json:"anomaly_mean"`
	AnomalyStdDev    *float64 `json:"anomaly_std_dev"`
	AnomalyBaselineN int      `json:"anomaly_baseline_n"`
	AnomalyWarmedUp  bool     `json:"anomaly_warmed_up"`

	SessionTotalPackets int64     `json:"session_total_packets"`
	SessionTotalThreats int64     `json:"session_total_threats"`
	SessionStartedAt    time.Time `json:"session_started_at"`
}

// Attack vector buckets used by record enrichment and the threat-intel report.
const (
	VectorVolumetric  = "Volumetric"
	VectorApplication = "Application"
	VectorProtocol    = "Protocol"
)

// volumetricBytes is the payload size at which a packet is treated as part
// of a volumetric flood regardless of method.
const volumetricBytes = 7000

// ClassifyAttackVector buckets a packet into one of the three fixed attack
// vectors from its method and size.
func ClassifyAttackVector(method string, bytes int) string {
	if bytes >= volumetricBytes {
		return VectorVolumetric
	}
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "POST", "PUT", "PATCH", "DELETE":
		return VectorApplication
	}
	return VectorProtocol
}

// countryNames is the fixed list the dashboard's geo view keys on. Mapping
// is deterministic by first octet so the same IP always lands on the same
// country.
var countryNames = []string{
	"United States",
	"Canada",
	"Brazil",
	"United Kingdom",
	"Germany",
	"Russia",
	"China",
	"Japan",
	"Australia",
	"South Africa",
}

// CountryForIP maps a source address onto the fixed country list.
// Unparseable addresses map to the first entry.
func CountryForIP(ip string) string {
	s := strings.TrimSpace(ip)
	dot := strings.IndexByte(s, '.')
	if dot > 0 {
		s = s[:dot]
	}
	first, err := strconv.Atoi(s)
	if err != nil || first < 0 {
		return countryNames[0]
	}
	return countryNames[first%len(countryNames)]
}
