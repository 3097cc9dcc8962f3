package moderation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/pairchat-go/internal/json"
	zlog "github.com/lk2023060901/pairchat-go/pkg/log"
	"github.com/lk2023060901/pairchat-go/pkg/util/retry"
)

// Client 封装模型编排服务的文本毒性审核接口。
//
// 说明：
//   - ClassifyText 调用 POST /toxicity，返回各毒性标签的概率；
//   - Allow 将概率与阈值比较，实现 chat 路由层的审核钩子；
//   - 网络类错误按配置的次数重试。
type Client struct {
	cfg    *Config
	logger *zlog.MLogger
	http   *http.Client
}

// Scores 为审核服务返回的标签概率。
type Scores map[string]float64

// Toxicity 返回主毒性标签的概率，缺失时为 0。
func (s Scores) Toxicity() float64 {
	return s["toxicity"]
}

// Max 返回全部标签中的最大概率。
func (s Scores) Max() float64 {
	max := 0.0
	for _, v := range s {
		if v > max {
			max = v
		}
	}
	return max
}

// NewClient 创建审核服务客户端。
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.fillDefaults()

	if cfg.BaseURL == "" {
		return nil, errors.New("moderation: base url is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zlog.With(zap.String("component", "moderation"))
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		http: &http.Client{
			Timeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
		},
	}, nil
}

// Ready 检查审核服务是否就绪。
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/ready", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("moderation: service not ready, status %d", resp.StatusCode)
	}
	return nil
}

// ClassifyText 对文本进行毒性分类，返回各标签概率。
func (c *Client) ClassifyText(ctx context.Context, text string) (Scores, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	var scores Scores
	err = retry.Do(ctx, func() error {
		scores, err = c.classifyOnce(ctx, payload)
		return err
	}, retry.Attempts(uint(c.cfg.MaxAttempts)))
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func (c *Client) classifyOnce(ctx context.Context, payload []byte) (Scores, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/toxicity", bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := errors.Newf("moderation: unexpected status %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.Unrecoverable(err)
		}
		return nil, err
	}

	var scores Scores
	if err := json.Unmarshal(body, &scores); err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("moderation: decode response: %w", err))
	}
	return scores, nil
}

// Allow 判断文本是否放行，实现路由层的审核钩子。
func (c *Client) Allow(ctx context.Context, text string) (bool, error) {
	scores, err := c.ClassifyText(ctx, text)
	if err != nil {
		return false, err
	}
	if max := scores.Max(); max >= c.cfg.Threshold {
		c.logger.Info("message blocked by moderation",
			zap.Float64("score", max),
			zap.Float64("threshold", c.cfg.Threshold))
		return false, nil
	}
	return true, nil
}
