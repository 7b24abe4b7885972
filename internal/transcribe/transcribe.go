package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

// Transcriber turns a speech file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Whisper calls the OpenAI-compatible transcription endpoint.
type Whisper struct {
	client   *openai.Client
	model    string
	language string
}

func NewWhisper(apiKey, baseURL, model, language string) *Whisper {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{client: openai.NewClientWithConfig(config), model: model, language: language}
}

func (w *Whisper) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       w.model,
		FilePath:    path,
		Language:    w.language,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("empty transcription")
	}
	return text, nil
}

// Text runs t and folds any failure into an inline "Errore: ..." string so
// the pipeline can keep going. The bool reports whether the text is real.
func Text(ctx context.Context, t Transcriber, path string) (string, bool) {
	text, err := t.Transcribe(ctx, path)
	if err != nil {
		log.Warnf("transcription of %s failed: %v", path, err)
		return fmt.Sprintf("Errore: %v", err), false
	}
	return text, true
}
