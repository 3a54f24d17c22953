// Package ner provides a client for the external named-entity-recognition service.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"pii-audit-go/internal/config"
	"pii-audit-go/pkg/log"
	"pii-audit-go/pkg/metrics"
	"strings"
	"time"
	"unicode/utf8"
)

// Outcome 描述一次识别调用的结果类别。除 OutcomeOK 外都意味着没有可用的 NER 结果，
// 调用方应退化为仅使用正则检测。
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeDisabled       Outcome = "disabled"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeBadStatus      Outcome = "bad_status"
	OutcomeMalformed      Outcome = "malformed_payload"
	OutcomeTransportError Outcome = "transport_error"
)

// maxResponseBytes 限制读取的响应体大小。
const maxResponseBytes = 1 << 20

// Entity 是一条通过置信度阈值的识别结果，Type 已转为大写。
type Entity struct {
	Type  string
	Word  string
	Score float64
}

// Result 是一次识别调用的完整结果。Raw 是服务端返回的原始 JSON，仅为追溯保存。
type Result struct {
	Entities   []Entity
	Raw        json.RawMessage
	Outcome    Outcome
	StatusCode int
	Err        error
}

// Degraded 表示本次调用应被视为上游不可用。
func (r Result) Degraded() bool {
	switch r.Outcome {
	case OutcomeTimeout, OutcomeBadStatus, OutcomeMalformed, OutcomeTransportError:
		return true
	}
	return false
}

// Client defines the interface for an entity recognition client.
type Client interface {
	Recognize(ctx context.Context, text string) Result
	ModelName() string
}

type httpClient struct {
	cfg    config.NERConfig
	client *http.Client
}

// NewClient creates a new entity recognition client from the config.
// An empty API token yields a client that never calls out and reports OutcomeDisabled.
func NewClient(cfg config.NERConfig) Client {
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout()},
	}
}

type recognizeRequest struct {
	Inputs string `json:"inputs"`
}

type recognizedEntity struct {
	EntityGroup string  `json:"entity_group"`
	Word        string  `json:"word"`
	Score       float64 `json:"score"`
}

func (c *httpClient) ModelName() string {
	return c.cfg.ModelName
}

// Recognize 调用 NER 服务识别文本中的实体。它从不返回错误：所有失败都折叠进 Result.Outcome，
// 并记录日志与指标，保证检测流程不会因上游故障中断。
func (c *httpClient) Recognize(ctx context.Context, text string) Result {
	if c.cfg.APIToken == "" {
		return c.finish(Result{Outcome: OutcomeDisabled}, 0)
	}
	if text == "" || utf8.RuneCountInString(text) < c.cfg.MinTextLength {
		return c.finish(Result{Outcome: OutcomeSkipped}, 0)
	}

	reqBytes, err := json.Marshal(recognizeRequest{Inputs: truncateRunes(text, c.cfg.MaxInputChars)})
	if err != nil {
		return c.finish(Result{Outcome: OutcomeMalformed, Err: fmt.Errorf("failed to marshal ner request: %w", err)}, 0)
	}

	if c.cfg.Timeout() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout())
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(reqBytes))
	if err != nil {
		return c.finish(Result{Outcome: OutcomeTransportError, Err: fmt.Errorf("failed to create ner request: %w", err)}, 0)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		outcome := OutcomeTransportError
		if isTimeout(err) {
			outcome = OutcomeTimeout
		}
		return c.finish(Result{Outcome: outcome, Err: fmt.Errorf("failed to call ner api: %w", err)}, time.Since(start))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	elapsed := time.Since(start)
	if err != nil {
		outcome := OutcomeTransportError
		if isTimeout(err) {
			outcome = OutcomeTimeout
		}
		return c.finish(Result{Outcome: outcome, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read ner response: %w", err)}, elapsed)
	}

	if resp.StatusCode != http.StatusOK {
		return c.finish(Result{
			Outcome:    OutcomeBadStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("ner api returned non-200 status: %s", resp.Status),
		}, elapsed)
	}

	var entities []recognizedEntity
	if err := json.Unmarshal(body, &entities); err != nil {
		res := Result{Outcome: OutcomeMalformed, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected ner response shape: %w", err)}
		// 合法 JSON 但不是列表时仍保留原始响应用于追溯
		if json.Valid(body) {
			res.Raw = json.RawMessage(body)
		}
		return c.finish(res, elapsed)
	}

	result := Result{Outcome: OutcomeOK, StatusCode: resp.StatusCode, Raw: json.RawMessage(body)}
	for _, e := range entities {
		if e.EntityGroup == "" || e.Score < c.cfg.ScoreThreshold {
			continue
		}
		result.Entities = append(result.Entities, Entity{
			Type:  strings.ToUpper(e.EntityGroup),
			Word:  e.Word,
			Score: e.Score,
		})
	}
	return c.finish(result, elapsed)
}

// finish 记录指标，并对上游不可用的情况输出告警日志。
func (c *httpClient) finish(r Result, elapsed time.Duration) Result {
	metrics.ObserveNER(string(r.Outcome), elapsed)
	if r.Degraded() {
		log.Warnw("[NERClient] 实体识别不可用，退化为仅正则检测",
			"outcome", r.Outcome,
			"status", r.StatusCode,
			"error", r.Err,
		)
	} else if r.Outcome == OutcomeOK {
		log.Infof("[NERClient] 实体识别成功, model: %s, entities: %d", c.cfg.ModelName, len(r.Entities))
	}
	return r
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// truncateRunes 按字符（而不是字节）截断文本。
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
