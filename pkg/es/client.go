// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"kazakh-hub/internal/config"
	"kazakh-hub/internal/model"
	"kazakh-hub/pkg/log"
)

// codeIndexMapping 是代码记录索引的结构。content 使用标准分词器，路径和标签只做精确匹配。
const codeIndexMapping = `{
	"mappings": {
		"properties": {
			"record_id":   { "type": "keyword" },
			"title":       { "type": "text", "fields": { "raw": { "type": "keyword" } } },
			"content":     { "type": "text" },
			"language":    { "type": "keyword" },
			"author":      { "type": "keyword" },
			"description": { "type": "text" },
			"tags":        { "type": "keyword" },
			"is_folder":   { "type": "boolean" },
			"folder_id":   { "type": "keyword" },
			"folder_path": { "type": "keyword" },
			"created_at":  { "type": "date", "format": "yyyy-MM-dd HH:mm:ss" }
		}
	}
}`

// Hit 是一条搜索命中。
type Hit struct {
	Source    model.CodeDocument  `json:"_source"`
	Score     float64             `json:"_score"`
	Highlight map[string][]string `json:"highlight"`
}

// Client 封装了单个索引上的读写操作。
type Client struct {
	es    *elasticsearch.Client
	index string
}

// NewClient 初始化 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*Client, error) {
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
		return nil, err
	}
	return &Client{es: client, index: esCfg.IndexName}, nil
}

// Index 返回索引名。
func (c *Client) Index() string { return c.index }

// EnsureIndex 检查索引是否存在，如果不存在则创建它。
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", c.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(codeIndexMapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", c.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}
	log.Infof("索引 '%s' 创建成功", c.index)
	return nil
}

// IndexDocument 以记录 ID 作为文档 ID 写入，重复投递的事件会覆盖同一文档。
func (c *Client) IndexDocument(ctx context.Context, doc model.CodeDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.RecordID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("failed to index document %s: %s", doc.RecordID, res.Status())
	}
	return nil
}

// Search 执行查询并返回命中列表。
func (c *Client) Search(ctx context.Context, query map[string]interface{}) ([]Hit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(&buf),
		c.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []Hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}
	return esResponse.Hits.Hits, nil
}
