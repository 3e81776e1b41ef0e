// Package config reads server configuration from the environment.
package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress   string
	RecordingsDir string

	// learning backend (transcription + evaluation + default voice)
	BackendURL string
	BackendKey string

	// voice synthesis provider: "backend" or "deepgram"
	TTSProvider   string
	DeepgramKey   string
	DeepgramModel string

	// media signaling
	ICEServersJSON string
	MediaAuthToken string

	// artifact archival
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}

	addr := getEnv("HTTP_ADDRESS", ":8080")

	backendURL := os.Getenv("BACKEND_URL")
	if backendURL == "" {
		log.Println("Warning: BACKEND_URL not set - transcription and evaluation will not work")
	}

	provider := getEnv("TTS_PROVIDER", "backend")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if provider == "deepgram" && deepgramKey == "" {
		log.Println("Warning: TTS_PROVIDER=deepgram but DEEPGRAM_API_KEY not set - voice will not work")
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	if supabaseURL == "" {
		log.Println("Warning: SUPABASE_URL not set - recordings will not be archived")
	}

	log.Printf("config: HTTP_ADDRESS=%s TTS_PROVIDER=%s", addr, provider)
	return Config{
		HTTPAddress:            addr,
		RecordingsDir:          getEnv("RECORDINGS_DIR", os.TempDir()),
		BackendURL:             backendURL,
		BackendKey:             os.Getenv("BACKEND_API_KEY"),
		TTSProvider:            provider,
		DeepgramKey:            deepgramKey,
		DeepgramModel:          getEnv("DEEPGRAM_MODEL", "aura-2-thalia-en"),
		ICEServersJSON:         getEnv("ICE_SERVERS_JSON", `[{"urls":["stun:stun.l.google.com:19302"]}]`),
		MediaAuthToken:         os.Getenv("MEDIA_AUTH_TOKEN"),
		SupabaseURL:            supabaseURL,
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "voice-recording"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
