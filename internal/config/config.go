package config

import (
	"flag"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddress string
	TokenSecret string

	AssemblyAIAPIKey string

	CerebrasAPIKey string
	CerebrasModel  string

	TTSProvider       string
	DeepgramAPIKey    string
	DeepgramTTSModel  string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string
	DataDir                string

	AccessWindowBefore time.Duration
	AccessWindowAfter  time.Duration

	MaxQuestions     int
	MinRecordingTime time.Duration
	SilenceThreshold time.Duration
	MaxAnswerTime    time.Duration
	PlaybackTimeout  time.Duration
	QuestionTimeout  time.Duration
	SynthesisTimeout time.Duration

	DetectorURL      string
	DetectorAPIKey   string
	DetectorPoolSize int
	ProctorInterval  time.Duration
	ProctorDebounce  int
}

func Load() Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it: %v", err)
	}

	var cfg Config

	flag.StringVar(&cfg.HTTPAddress, "addr", getEnv("HTTP_ADDRESS", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.TokenSecret, "token-secret", os.Getenv("TOKEN_SECRET"), "HMAC secret for session link tokens")
	flag.StringVar(&cfg.AssemblyAIAPIKey, "assemblyai-key", os.Getenv("ASSEMBLYAI_API_KEY"), "AssemblyAI API key")
	flag.StringVar(&cfg.CerebrasAPIKey, "cerebras-key", os.Getenv("CEREBRAS_API_KEY"), "Cerebras API key")
	flag.StringVar(&cfg.CerebrasModel, "cerebras-model", getEnv("CEREBRAS_MODEL_ID", "llama-3.3-70b"), "Cerebras model id")
	flag.StringVar(&cfg.TTSProvider, "tts-provider", getEnv("TTS_PROVIDER", "deepgram"), "TTS provider: deepgram or elevenlabs")
	flag.StringVar(&cfg.DeepgramAPIKey, "deepgram-key", os.Getenv("DEEPGRAM_API_KEY"), "Deepgram API key")
	flag.StringVar(&cfg.DeepgramTTSModel, "deepgram-tts-model", getEnv("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"), "Deepgram TTS voice model")
	flag.StringVar(&cfg.ElevenLabsAPIKey, "elevenlabs-key", os.Getenv("ELEVENLABS_API_KEY"), "ElevenLabs API key")
	flag.StringVar(&cfg.ElevenLabsVoiceID, "elevenlabs-voice", os.Getenv("ELEVENLABS_VOICE_ID"), "ElevenLabs voice id")
	flag.StringVar(&cfg.SupabaseURL, "supabase-url", os.Getenv("SUPABASE_URL"), "Supabase URL")
	flag.StringVar(&cfg.SupabaseServiceRoleKey, "supabase-key", os.Getenv("SUPABASE_SERVICE_ROLE_KEY"), "Supabase Service Role Key")
	flag.StringVar(&cfg.SupabaseBucket, "supabase-bucket", getEnv("SUPABASE_BUCKET", "interview-recordings"), "Supabase Storage Bucket")
	flag.StringVar(&cfg.DataDir, "data-dir", os.Getenv("DATA_DIR"), "Local artifact directory when Supabase is not configured")
	flag.StringVar(&cfg.DetectorURL, "detector-url", os.Getenv("DETECTOR_URL"), "Vision detector endpoint for proctoring")
	flag.StringVar(&cfg.DetectorAPIKey, "detector-key", os.Getenv("DETECTOR_API_KEY"), "Vision detector API key")
	flag.Parse()

	cfg.AccessWindowBefore = getDuration("ACCESS_WINDOW_BEFORE", 15*time.Minute)
	cfg.AccessWindowAfter = getDuration("ACCESS_WINDOW_AFTER", 15*time.Minute)
	cfg.MaxQuestions = getInt("MAX_QUESTIONS", 5)
	cfg.MinRecordingTime = getDuration("MIN_RECORDING_TIME", 2*time.Second)
	cfg.SilenceThreshold = getDuration("SILENCE_THRESHOLD", 5*time.Second)
	cfg.MaxAnswerTime = getDuration("MAX_ANSWER_TIME", 10*time.Second)
	cfg.PlaybackTimeout = getDuration("PLAYBACK_TIMEOUT", 60*time.Second)
	cfg.QuestionTimeout = getDuration("QUESTION_TIMEOUT", 8*time.Second)
	cfg.SynthesisTimeout = getDuration("SYNTHESIS_TIMEOUT", 12*time.Second)
	cfg.DetectorPoolSize = getInt("DETECTOR_POOL_SIZE", 4)
	cfg.ProctorInterval = getDuration("PROCTOR_INTERVAL", 5*time.Second)
	cfg.ProctorDebounce = getInt("PROCTOR_DEBOUNCE", 3)

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid duration for %s (%q), using %s: %v", key, value, defaultValue, err)
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer for %s (%q), using %d: %v", key, value, defaultValue, err)
		return defaultValue
	}
	return n
}
