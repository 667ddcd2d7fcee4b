package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// InferenceProbe 推理服务健康探针
// 仅用于启动自检，监测链路本身不依赖推理服务可达
type InferenceProbe struct {
	httpClient *resty.Client
	healthURL  string
	logger     *zap.Logger
}

// NewInferenceProbe 创建健康探针
func NewInferenceProbe(healthURL, apiKey string, logger *zap.Logger) *InferenceProbe {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")

	if apiKey != "" {
		client.SetQueryParam("api_key", apiKey)
	}

	return &InferenceProbe{
		httpClient: client,
		healthURL:  healthURL,
		logger:     logger,
	}
}

// CheckHealth 探测推理服务健康状态，非 200 视为不健康
func (p *InferenceProbe) CheckHealth(ctx context.Context) error {
	resp, err := p.httpClient.R().SetContext(ctx).Get(p.healthURL)
	if err != nil {
		return fmt.Errorf("failed to reach inference service: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: status %d", resp.StatusCode())
	}

	p.logger.Info("Inference service healthy",
		zap.String("url", p.healthURL),
	)
	return nil
}
