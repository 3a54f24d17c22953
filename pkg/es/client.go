// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"pii-audit-go/internal/config"
	"pii-audit-go/internal/model"
	"pii-audit-go/pkg/log"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// detectionMapping 是检测摘要索引的结构，只包含可检索的元数据。
const detectionMapping = `{
	"mappings": {
		"properties": {
			"detection_id": { "type": "keyword" },
			"audit_log_id": { "type": "keyword" },
			"tenant_id": { "type": "keyword" },
			"detection_timestamp": { "type": "date" },
			"pii_types": { "type": "keyword" },
			"risk_levels": { "type": "keyword" },
			"fields": { "type": "keyword" },
			"pii_count": { "type": "integer" },
			"high_risk_count": { "type": "integer" }
		}
	}
}`

// InitES 初始化 Elasticsearch 客户端并确保检测摘要索引存在。
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return NewDetectionIndex(client, esCfg.IndexName).EnsureIndex(context.Background())
}

// DetectionIndex 封装了检测摘要索引的写入与检索。
type DetectionIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewDetectionIndex 创建一个绑定到指定索引的 DetectionIndex。
func NewDetectionIndex(client *elasticsearch.Client, indexName string) *DetectionIndex {
	return &DetectionIndex{client: client, index: indexName}
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func (d *DetectionIndex) EnsureIndex(ctx context.Context) error {
	res, err := d.client.Indices.Exists([]string{d.index}, d.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", d.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = d.client.Indices.Create(
		d.index,
		d.client.Indices.Create.WithBody(strings.NewReader(detectionMapping)),
		d.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", d.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", d.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", d.index)
	return nil
}

// IndexDetection 将单个检测摘要写入索引，文档 ID 为检测记录 ID，重复写入是幂等的。
func (d *DetectionIndex) IndexDetection(ctx context.Context, doc model.EsDetectionDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      d.index,
		DocumentID: doc.DetectionID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, d.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index detection")
	}
	return nil
}

// DetectionQuery 描述检测摘要的检索条件，TenantID 必填。
type DetectionQuery struct {
	TenantID  string
	PIIType   string
	RiskLevel string
	From      *time.Time
	To        *time.Time
	Offset    int
	Size      int
}

// buildQuery 生成 bool/filter 查询，按检测时间倒序。
func buildQuery(q DetectionQuery) map[string]interface{} {
	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"tenant_id": q.TenantID}},
	}
	if q.PIIType != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"pii_types": q.PIIType}})
	}
	if q.RiskLevel != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"risk_levels": q.RiskLevel}})
	}
	if q.From != nil || q.To != nil {
		rng := map[string]interface{}{}
		if q.From != nil {
			rng["gte"] = q.From.UTC().Format(time.RFC3339Nano)
		}
		if q.To != nil {
			rng["lte"] = q.To.UTC().Format(time.RFC3339Nano)
		}
		filters = append(filters, map[string]interface{}{"range": map[string]interface{}{"detection_timestamp": rng}})
	}
	return map[string]interface{}{
		"from":  q.Offset,
		"size":  q.Size,
		"query": map[string]interface{}{"bool": map[string]interface{}{"filter": filters}},
		"sort": []map[string]interface{}{
			{"detection_timestamp": map[string]interface{}{"order": "desc"}},
			{"detection_id": map[string]interface{}{"order": "desc"}},
		},
	}
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Score  *float64                  `json:"_score"`
			Source model.EsDetectionDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchDetections 按条件检索检测摘要，返回命中列表与总数。
func (d *DetectionIndex) SearchDetections(ctx context.Context, q DetectionQuery) ([]model.DetectionSearchHit, int64, error) {
	if q.TenantID == "" {
		return nil, 0, errors.New("tenant id is required")
	}
	if q.Size <= 0 {
		q.Size = 20
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildQuery(q)); err != nil {
		return nil, 0, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := d.client.Search(
		d.client.Search.WithContext(ctx),
		d.client.Search.WithIndex(d.index),
		d.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("Elasticsearch 检索出错: %s", res.String())
		return nil, 0, fmt.Errorf("elasticsearch search failed: %s", res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("failed to decode search response: %w", err)
	}
	hits := make([]model.DetectionSearchHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hit := model.DetectionSearchHit{EsDetectionDocument: h.Source}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		hits = append(hits, hit)
	}
	return hits, parsed.Hits.Total.Value, nil
}
