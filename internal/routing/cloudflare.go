package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const cloudflareAPIBase = "https://api.cloudflare.com/client/v4"

// Cloudflare 通过 Cloudflare Email Routing 规则 API 管理别名路由：
// 开通时创建一条 literal 匹配规则，把别名地址转发到
// 实际收信邮箱；停用时删除该规则。
type Cloudflare struct {
	apiBase    string
	apiToken   string
	zoneID     string
	forwardTo  string
	httpClient *http.Client
	log        *zap.Logger
}

// CloudflareOptions Cloudflare 提供方配置。
type CloudflareOptions struct {
	APIBase   string
	APIToken  string
	ZoneID    string
	ForwardTo string
}

// NewCloudflare 创建 Cloudflare Email Routing 提供方。
func NewCloudflare(opts CloudflareOptions, log *zap.Logger) *Cloudflare {
	if opts.APIBase == "" {
		opts.APIBase = cloudflareAPIBase
	}
	return &Cloudflare{
		apiBase:   opts.APIBase,
		apiToken:  opts.APIToken,
		zoneID:    opts.ZoneID,
		forwardTo: opts.ForwardTo,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

func (c *Cloudflare) Name() string {
	return "cloudflare"
}

type cloudflareRule struct {
	Name     string              `json:"name,omitempty"`
	Enabled  bool                `json:"enabled"`
	Matchers []cloudflareMatcher `json:"matchers"`
	Actions  []cloudflareAction  `json:"actions"`
}

type cloudflareMatcher struct {
	Type  string `json:"type"`
	Field string `json:"field"`
	Value string `json:"value"`
}

type cloudflareAction struct {
	Type  string   `json:"type"`
	Value []string `json:"value"`
}

type cloudflareEnvelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result struct {
		ID string `json:"id"`
	} `json:"result"`
}

// CreateRoute 为别名地址创建转发规则，返回规则 ID。
func (c *Cloudflare) CreateRoute(ctx context.Context, address string) (string, error) {
	rule := cloudflareRule{
		Name:    "forward " + address,
		Enabled: true,
		Matchers: []cloudflareMatcher{
			{Type: "literal", Field: "to", Value: address},
		},
		Actions: []cloudflareAction{
			{Type: "forward", Value: []string{c.forwardTo}},
		},
	}

	url := fmt.Sprintf("%s/zones/%s/email/routing/rules", c.apiBase, c.zoneID)
	envelope, err := c.do(ctx, http.MethodPost, url, rule)
	if err != nil {
		return "", err
	}

	c.log.Info("email routing rule created",
		zap.String("address", address),
		zap.String("rule_id", envelope.Result.ID))
	return envelope.Result.ID, nil
}

// DisableRoute 删除转发规则，规则不存在时视为已停用。
func (c *Cloudflare) DisableRoute(ctx context.Context, routeRef string) error {
	url := fmt.Sprintf("%s/zones/%s/email/routing/rules/%s", c.apiBase, c.zoneID, routeRef)
	if _, err := c.do(ctx, http.MethodDelete, url, nil); err != nil {
		return err
	}

	c.log.Info("email routing rule deleted", zap.String("rule_id", routeRef))
	return nil
}

func (c *Cloudflare) do(ctx context.Context, method, url string, payload any) (*cloudflareEnvelope, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal routing payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build routing request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call routing api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read routing response: %w", err)
	}

	// 删除不存在的规则返回 404，停用操作视为幂等成功
	if method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
		return &cloudflareEnvelope{Success: true}, nil
	}

	var envelope cloudflareEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode routing response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.Success {
		if len(envelope.Errors) > 0 {
			return nil, fmt.Errorf("routing api error %d: %s", envelope.Errors[0].Code, envelope.Errors[0].Message)
		}
		return nil, fmt.Errorf("routing api failed with status %d", resp.StatusCode)
	}
	return &envelope, nil
}
