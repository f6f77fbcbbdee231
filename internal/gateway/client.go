package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"tracel-engine/internal/model"

	"github.com/sirupsen/logrus"
)

// Client talks to the external AI scoring service. Scoring is strictly
// best-effort: any transport error, timeout or malformed response degrades
// to "not scored" and must never surface as a pipeline fault.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *logrus.Logger
}

// HealthStatus is the gateway's self-reported state. Threshold carries the
// calibrated score cutoff when the model exposes one; it is only consulted
// before the local baseline has warmed up.
type HealthStatus struct {
	OK          bool      `json:"ok"`
	ModelLoaded bool      `json:"model_loaded"`
	ModelError  string    `json:"model_error,omitempty"`
	Threshold   *float64  `json:"threshold,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

type predictRequest struct {
	Bytes    int     `json:"bytes"`
	Method   string  `json:"method,omitempty"`
	Protocol string  `json:"protocol"`
	Entropy  float64 `json:"entropy"`
	DstPort  int     `json:"dst_port"`
}

type predictResponse struct {
	AnomalyScore *float64 `json:"anomaly_score"`
	IsAnomaly    bool     `json:"is_anomaly"`
}

type healthResponse struct {
	OK          bool     `json:"ok"`
	ModelLoaded bool     `json:"modelLoaded"`
	ModelError  string   `json:"modelError"`
	Threshold   *float64 `json:"threshold"`
}

// NewClient creates a gateway client. timeout bounds every Score call so a
// stalled gateway cannot stall packet emission.
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		logger:     logger,
	}
}

// Score asks the gateway for an anomaly score for one packet. Lower means
// more anomalous. The second return is false whenever no usable score was
// obtained; that is a normal, expected condition.
func (c *Client) Score(ctx context.Context, pkt model.Packet) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(predictRequest{
		Bytes:    pkt.Bytes,
		Method:   pkt.Method,
		Protocol: pkt.Protocol,
		Entropy:  pkt.Entropy,
		DstPort:  pkt.DestPort,
	})
	if err != nil {
		return 0, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debugf("Gateway score request failed: %v", err)
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debugf("Gateway score request returned status %d", resp.StatusCode)
		return 0, false
	}

	var parsed predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Debugf("Gateway score response malformed: %v", err)
		return 0, false
	}
	if parsed.AnomalyScore == nil {
		return 0, false
	}
	score := *parsed.AnomalyScore
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, false
	}
	return score, true
}

// Health fetches the gateway's health endpoint once.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthStatus{CheckedAt: time.Now().UTC()}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{CheckedAt: time.Now().UTC()}, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthStatus{CheckedAt: time.Now().UTC()}, fmt.Errorf("gateway health returned status %d", resp.StatusCode)
	}

	var parsed healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return HealthStatus{CheckedAt: time.Now().UTC()}, fmt.Errorf("gateway health response malformed: %w", err)
	}

	status := HealthStatus{
		OK:          parsed.OK,
		ModelLoaded: parsed.ModelLoaded,
		ModelError:  parsed.ModelError,
		CheckedAt:   time.Now().UTC(),
	}
	if parsed.Threshold != nil {
		thr := *parsed.Threshold
		if !math.IsNaN(thr) && !math.IsInf(thr, 0) {
			status.Threshold = &thr
		}
	}
	return status, nil
}
