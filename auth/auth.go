package auth

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"

	"github.com/raid-guild/arcmeter-go/utils"
)

// Header names.
const (
	APIKeyHeader      = "X-API-Key"
	AdminSecretHeader = "X-Admin-Secret"
)

// APIKeyConfig selects how facilitator requests are authenticated. With
// neither field set every request is accepted.
type APIKeyConfig struct {
	// StaticKey is a single shared API key.
	StaticKey string
	// DatabaseURL points at a postgres database with a users(api_key) table.
	DatabaseURL string
}

// Authenticate authenticates a facilitator request.
func Authenticate(r *http.Request, cfg APIKeyConfig) error {

	// Get the API key from the request header
	providedKey := r.Header.Get(APIKeyHeader)

	// Check if the configuration is ambiguous
	if cfg.StaticKey != "" && cfg.DatabaseURL != "" {
		return utils.NewStatusError(
			errors.New("both static API key and database URL are set"),
			http.StatusInternalServerError,
		)
	}

	// Check if the API key is required (static key)
	if cfg.StaticKey != "" {

		// Check if the provided key does not match the static key
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(cfg.StaticKey)) != 1 {
			return utils.NewStatusError(
				errors.New("unauthorized"),
				http.StatusUnauthorized,
			)
		}
	}

	// Check if the API key is required (dynamic key)
	if cfg.DatabaseURL != "" {

		// Check if the provided key is empty
		if providedKey == "" {
			return utils.NewStatusError(
				errors.New("unauthorized"),
				http.StatusUnauthorized,
			)
		}

		// Connect to the database
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return utils.NewStatusError(
				errors.New("failed to connect to database"),
				http.StatusInternalServerError,
			)
		}
		defer db.Close()

		// Check the API key exists in the database
		var apiKey string
		err = db.QueryRowContext(
			r.Context(),
			"SELECT api_key FROM users WHERE api_key = $1",
			providedKey,
		).Scan(&apiKey)

		// Check if the query returned a no rows error
		if errors.Is(err, sql.ErrNoRows) {
			return utils.NewStatusError(
				errors.New("unauthorized"),
				http.StatusUnauthorized,
			)
		}

		// Check if the query returned a different error
		if err != nil {
			return utils.NewStatusError(
				errors.New("failed to get key from database"),
				http.StatusInternalServerError,
			)
		}
	}

	return nil
}

// AuthenticateAdmin checks the shared admin secret of a seller request.
func AuthenticateAdmin(r *http.Request, secret string) error {

	// Check the secret is configured
	if secret == "" {
		return utils.NewStatusError(
			errors.New("admin secret is not configured"),
			http.StatusInternalServerError,
		)
	}

	// Check the provided secret in constant time
	provided := r.Header.Get(AdminSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		return utils.NewStatusError(
			errors.New("unauthorized"),
			http.StatusUnauthorized,
		)
	}

	return nil
}
