package llm

import (
	"fmt"
	"strings"

	"mr-assistant/internal/config"
)

// Factory creates chat backends from configuration. The backend is picked
// once at startup; the rest of the system only sees Client.
type Factory struct {
	OpenaiAPIKey     string
	OpenaiBaseURL    string
	OpenaiModel      string
	Temperature      float32
	TopP             float32
	OllamaHost       string
	OllamaModel      string
	YandexOAuthToken string
	YandexFolderID   string
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		OpenaiAPIKey:     cfg.OpenAIAPIKey,
		OpenaiBaseURL:    cfg.OpenAIBaseURL,
		OpenaiModel:      cfg.OpenAIModel,
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		OllamaHost:       cfg.OllamaHost,
		OllamaModel:      cfg.OllamaModel,
		YandexOAuthToken: cfg.YandexOAuthToken,
		YandexFolderID:   cfg.YandexFolderID,
	}
}

func (f *Factory) CreateClient(provider string) (Client, error) {
	switch strings.ToLower(provider) {
	case string(config.ProviderOpenAI):
		return NewOpenAI(f.OpenaiAPIKey, f.OpenaiBaseURL, f.OpenaiModel, f.Temperature, f.TopP), nil
	case string(config.ProviderOllama):
		return NewOllama(f.OllamaHost, f.OllamaModel), nil
	case string(config.ProviderYandex):
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}
