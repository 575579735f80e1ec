package config

// RateLimitConfig carries the quota pair used to seed the default plan at
// startup. Checks themselves always read the user's plan row; a user whose
// plan relation is missing is rejected rather than given these values.
type RateLimitConfig struct {
	DefaultQueryLimit       int
	DefaultQueryWindowHours int
}

func NewRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		DefaultQueryLimit:       getEnvInt("CHATBOT_QUERY_LIMIT", 5),
		DefaultQueryWindowHours: getEnvInt("CHATBOT_QUERY_WINDOW_HOURS", 24),
	}
}
