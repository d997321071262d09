// Package provider 提供多厂商 AI 推理客户端与响应归一化
package provider

import (
	"fmt"

	"storyforge-ai-api/internal/config"
)

// Registry 厂商客户端注册表。按配置装配可用的客户端，
// 上层按名称取用或直接拿默认文本/图像客户端。
type Registry struct {
	clients      map[string]Client
	defaultText  string
	defaultImage string
}

// NewRegistry 根据配置创建注册表，未配置的厂商不会被装配
func NewRegistry(cfg *config.ProvidersConfig) (*Registry, error) {
	r := &Registry{
		clients:      make(map[string]Client),
		defaultText:  cfg.DefaultText,
		defaultImage: cfg.DefaultImage,
	}

	if cfg.OpenAI.APIKey != "" {
		client, err := NewOpenAIClient(&cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		r.clients[ProviderOpenAI] = client
	}
	if cfg.Llama.BaseURL != "" {
		client, err := NewLlamaClient(&cfg.Llama)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama client: %w", err)
		}
		r.clients[ProviderLlama] = client
	}
	if cfg.Nemotron3.BaseURL != "" {
		client, err := NewNemotron3Client(&cfg.Nemotron3)
		if err != nil {
			return nil, fmt.Errorf("failed to create nemotron3 client: %w", err)
		}
		r.clients[ProviderNemotron3] = client
	}

	if len(r.clients) == 0 {
		return nil, fmt.Errorf("no provider configured")
	}
	if _, ok := r.clients[r.defaultText]; !ok {
		return nil, fmt.Errorf("default text provider %q is not configured", r.defaultText)
	}
	if _, ok := r.clients[r.defaultImage]; !ok {
		return nil, fmt.Errorf("default image provider %q is not configured", r.defaultImage)
	}

	return r, nil
}

// Get 按名称取客户端
func (r *Registry) Get(name string) (Client, error) {
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	return client, nil
}

// Text 默认文本客户端
func (r *Registry) Text() Client {
	return r.clients[r.defaultText]
}

// ImageClient 默认图像客户端
func (r *Registry) ImageClient() Client {
	return r.clients[r.defaultImage]
}
