package config

// AuthConfig configures the authentication boundary.
type AuthConfig struct {
	// JWTSecret signs session tokens; the token layer itself is an
	// external collaborator.
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	// MaxFailedAttempts locks an account after this many consecutive
	// failures.
	MaxFailedAttempts int `yaml:"max_failed_attempts" mapstructure:"max_failed_attempts"`
	// MinPasswordLength rejects shorter passwords at user creation.
	MinPasswordLength int `yaml:"min_password_length" mapstructure:"min_password_length"`
	// SessionTTLMinutes bounds how long an authenticated wire session
	// stays valid.
	SessionTTLMinutes int `yaml:"session_ttl_minutes" mapstructure:"session_ttl_minutes"`
}
