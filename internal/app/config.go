// Package app holds the environment and client wiring shared by the monitor
// daemon and the monthly shipments tool.
package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sos_sheet_sync/internal/auth"
	"sos_sheet_sync/internal/dedup"
	"sos_sheet_sync/internal/notifications"
	"sos_sheet_sync/internal/sheets"
	"sos_sheet_sync/internal/sos"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupEnvironment loads .env file and configures zerolog output and log level.
func SetupEnvironment() {
	// Load .env file if it exists
	err := godotenv.Load()

	// Configure logging
	if os.Getenv("ENV") == "production" {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(os.Stderr)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	levelStr := strings.ToLower(os.Getenv("LOGLEVEL"))
	switch levelStr {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	case "disabled":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	case "":
		// Default based on environment
		if os.Getenv("ENV") == "production" {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Warn().Msgf("Unknown LOGLEVEL '%s', defaulting to info.", levelStr)
	}

	// wait until now to report on the .env file so we have the chance to set up logging first
	if err == nil {
		log.Debug().Msg("Loaded environment variables from .env file.")
	} else {
		log.Debug().Msg("No .env file found or error loading .env file; proceeding with existing environment variables.")
	}
}

// GetRequiredEnv fetches a required environment variable or exits if not set.
func GetRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatal().Msgf("%s environment variable is required", key)
	}
	return value
}

// GetEnvWithDefault fetches an environment variable with a default fallback.
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// InitializeSession builds the SOS auth session from the environment and
// wires its validity probe to a throwaway API client.
func InitializeSession(ctx context.Context) *auth.Session {
	session := auth.NewSession(auth.Config{
		ClientID:     GetRequiredEnv("SOS_CLIENT_ID"),
		ClientSecret: GetRequiredEnv("SOS_CLIENT_SECRET"),
		RedirectURL:  GetEnvWithDefault("SOS_REDIRECT_URL", "http://localhost:8080/callback"),
		ListenAddr:   GetEnvWithDefault("SOS_CALLBACK_ADDR", ":8080"),
		TokenFile:    GetEnvWithDefault("SOS_TOKEN_FILE", "sos_tokens.json"),
	})

	probe := sos.NewClient(session)
	session.SetProbe(probe.TestConnection)

	if err := session.EnsureValid(ctx); err != nil {
		log.Fatal().Err(err).Msg("Could not establish an SOS session")
	}
	return session
}

// InitializeClients creates the SOS API client and the Google Sheets client.
func InitializeClients(ctx context.Context, session *auth.Session) (*sos.Client, *sheets.Client) {
	log.Debug().Msg("Initializing clients")
	credsFile := GetEnvWithDefault("GOOGLE_CREDENTIALS_FILE", "credentials.json")

	sosClient := sos.NewClient(session)
	sheetsClient, err := sheets.NewClient(ctx, credsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sheets client")
	}

	log.Debug().Msg("Clients initialized successfully")
	return sosClient, sheetsClient
}

// InitializeDedupStore opens the persisted row-signature store for one
// sheet. Signatures are positional within their sheet, so each sheet gets
// its own database file.
func InitializeDedupStore(sheetName string) *dedup.SQLiteStore {
	dir := GetEnvWithDefault("DEDUP_DB_DIR", ".")
	path := filepath.Join(dir, "signatures-"+sanitizeFileName(sheetName)+".db")

	store, err := dedup.OpenSQLiteStore(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to open dedup store")
	}
	log.Debug().Str("path", path).Msg("Opened dedup store")
	return store
}

func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// InitializeNotificationClient creates and returns the notification client.
func InitializeNotificationClient() *notifications.Client {
	enabled := GetEnvWithDefault("NTFY_ENABLED", "false") == "true"
	baseURL := GetEnvWithDefault("NTFY_URL", "https://ntfy.sh")
	topic := GetEnvWithDefault("NTFY_TOPIC", "sos-sheet-sync")
	priority := GetEnvWithDefault("NTFY_PRIORITY", "")

	log.Debug().
		Bool("enabled", enabled).
		Str("base_url", baseURL).
		Str("topic", topic).
		Msg("Initializing notification client")

	client := notifications.NewClient(baseURL, topic, enabled, priority, 3, time.Second, 30*time.Second)

	if enabled {
		log.Info().Str("topic", topic).Msg("Notifications enabled")
	} else {
		log.Debug().Msg("Notifications disabled")
	}

	return client
}
