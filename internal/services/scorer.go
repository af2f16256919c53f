package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/auditlens/auditlens-backend/internal/audit/pipeline"
	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
	"github.com/auditlens/auditlens-backend/internal/platform/config"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
)

// scorerClient calls the external alignment-scoring service over HTTP. The
// service contract: POST {base}/v1/score with element batches, returning
// candidate concepts. Retry/backoff is the scorer service's policy; this
// client surfaces every failure as a ScorerFailure.
type scorerClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewScorerClient(cfg *config.Config, log *logger.Logger) (pipeline.Scorer, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Scorer.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing SCORER_BASE_URL")
	}
	return &scorerClient{
		log:     log.With("client", "AlignmentScorer"),
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.Scorer.APIKey),
		httpClient: &http.Client{
			Timeout: cfg.Scorer.Timeout,
		},
	}, nil
}

type scoreRequest struct {
	D1Batch []audit.DatasetElement `json:"d1_batch"`
	D2Batch []audit.DatasetElement `json:"d2_batch"`
	Config  pipeline.ScoreConfig   `json:"config"`
}

type scoreResponse struct {
	Concepts []pipeline.ConceptFinding `json:"concepts"`
	Error    string                    `json:"error,omitempty"`
}

func (c *scorerClient) Score(ctx context.Context, d1Batch, d2Batch []audit.DatasetElement, cfg pipeline.ScoreConfig) ([]pipeline.ConceptFinding, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	body, err := json.Marshal(scoreRequest{
		D1Batch: d1Batch,
		D2Batch: d2Batch,
		Config:  cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("encode score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.E(pkgerrors.KindScorerFailure, "score call failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, pkgerrors.E(pkgerrors.KindScorerFailure, "read score response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, pkgerrors.E(pkgerrors.KindScorerFailure, fmt.Sprintf("score call returned %d: %s", resp.StatusCode, snippet), nil)
	}

	var out scoreResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, pkgerrors.E(pkgerrors.KindScorerFailure, "decode score response", err)
	}
	if out.Error != "" {
		return nil, pkgerrors.E(pkgerrors.KindScorerFailure, out.Error, nil)
	}
	c.log.Debug("score call ok", "d1_batch", len(d1Batch), "d2_batch", len(d2Batch), "concepts", len(out.Concepts))
	return out.Concepts, nil
}
