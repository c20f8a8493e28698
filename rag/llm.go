package rag

import (
	"github.com/mudler/ragscope/pkg/config"
	"github.com/sashabaranov/go-openai"
)

// NewOpenAIClient returns a client for Azure OpenAI when an Azure endpoint
// is configured, otherwise for a plain OpenAI-compatible API.
func NewOpenAIClient(cfg *config.Config) *openai.Client {
	if cfg.Azure() {
		azure := openai.DefaultAzureConfig(cfg.AzureAPIKey, cfg.AzureEndpoint)
		azure.APIVersion = cfg.AzureAPIVersion
		// requests carry deployment names, use them verbatim
		azure.AzureModelMapperFunc = func(model string) string {
			return model
		}
		return openai.NewClientWithConfig(azure)
	}

	openaiConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		openaiConfig.BaseURL = cfg.OpenAIBaseURL
	}
	return openai.NewClientWithConfig(openaiConfig)
}
