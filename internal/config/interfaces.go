package config

import "context"

// SecretProvider resolves secret pointers (for example AMQP_URL_SECRET_PARAM)
// into plaintext values.
type SecretProvider interface {
	// GetParametersBatch resolves every key it can. Keys that cannot be
	// resolved are omitted from the result.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
