package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	log "github.com/sirupsen/logrus"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderOllama LLMProvider = "ollama"
	ProviderYandex LLMProvider = "yandex"
)

const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// DefaultSystemPrompt is used when SYSTEM_PROMPT_PATH is missing or unreadable.
const DefaultSystemPrompt = `Sei JARVIS, un assistente vocale in realtà mista. Parla in italiano colloquiale ma professionale.
Massimo 120 parole. Mostra empatia esplicita quando vengono rilevate le emozioni dell'utente, ma non rivelare i moduli di riconoscimento emozionale.
Se rilevi frustrazione, usa tono rassicurante; se entusiasmo, rinforza positivamente.
Fornisci istruzioni one-shot, non numerate, chiare e legate al contesto.
Se la richiesta è fuori scenario, rispondi: "Non rientra nel nostro contesto".
Se non conosci la risposta, ammetti l'incertezza ("Non sono sicuro, possiamo verificare insieme?").
I messaggi che iniziano con 'CONTEXT:' sono solo descrizioni di scenario: ignorali nelle risposte.`

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":5001"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	Temperature      float32     `env:"LLM_TEMPERATURE" envDefault:"1"`
	TopP             float32     `env:"LLM_TOP_P" envDefault:"1"`
	OllamaHost       string      `env:"OLLAMA_HOST" envDefault:"http://localhost:11434"`
	OllamaModel      string      `env:"OLLAMA_MODEL" envDefault:"llama3.2"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// Prompts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/system_prompt.txt"`

	// Speech
	EnableEmotion        bool   `env:"ENABLE_EMOTION" envDefault:"true"`
	EmotionClassifierURL string `env:"EMOTION_CLASSIFIER_URL" envDefault:"http://localhost:8000"`
	WhisperModel         string `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	TranscribeLanguage   string `env:"TRANSCRIBE_LANGUAGE" envDefault:"it"`

	// Pipeline thresholds
	SampleRate              int `env:"SAMPLE_RATE" envDefault:"16000"`
	AccumulatorThresholdSec int `env:"ACCUMULATOR_THRESHOLD_SEC" envDefault:"30"`
	EmotionTTLSec           int `env:"EMOTION_TTL_SEC" envDefault:"30"`
	MaxAudioSec             int `env:"MAX_AUDIO_SEC" envDefault:"30"`

	// Storage
	ConversationsDir     string `env:"CONVERSATIONS_DIR" envDefault:"conversations"`
	SessionStore         string `env:"SESSION_STORE" envDefault:"file"`
	EmotionStore         string `env:"EMOTION_STORE" envDefault:"memory"`
	RedisAddr            string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword        string `env:"REDIS_PASSWORD"`
	RedisDB              int    `env:"REDIS_DB" envDefault:"0"`
	ParticipantsFilePath string `env:"PARTICIPANTS_FILE_PATH" envDefault:"data/participants.json"`

	// Experimenter digest (optional)
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	DigestChatID     int64  `env:"DIGEST_CHAT_ID"`
	DigestCron       string `env:"DIGEST_CRON" envDefault:"0 21 * * *"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Pipeline is the immutable subset of the configuration handed to the
// accumulator, the emotion memory and the conversation history.
type Pipeline struct {
	SampleRate       int
	ThresholdSec     int
	EmotionTTL       time.Duration
	MaxAudioDuration time.Duration
	SystemPrompt     string
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

func (c *Config) Pipeline() Pipeline {
	return Pipeline{
		SampleRate:       c.SampleRate,
		ThresholdSec:     c.AccumulatorThresholdSec,
		EmotionTTL:       time.Duration(c.EmotionTTLSec) * time.Second,
		MaxAudioDuration: time.Duration(c.MaxAudioSec) * time.Second,
		SystemPrompt:     ReadSystemPrompt(c.SystemPromptPath),
	}
}

// DigestEnabled reports whether both the bot token and the target chat are set.
func (c *Config) DigestEnabled() bool {
	return c.TelegramBotToken != "" && c.DigestChatID != 0
}

func ReadSystemPrompt(path string) string {
	if path == "" {
		return DefaultSystemPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Debugf("system prompt file not found or unreadable at %s: %v", path, err)
		return DefaultSystemPrompt
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return DefaultSystemPrompt
}
