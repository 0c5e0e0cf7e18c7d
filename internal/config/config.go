/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the transfer-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                         string `mapstructure:"SERVER_PORT"`
	DatabaseURL                        string `mapstructure:"DATABASE_URL"`
	RedisURL                           string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix               string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                        string `mapstructure:"RABBITMQ_URL"`
	TransferEventExchange              string `mapstructure:"TRANSFER_EVENT_EXCHANGE"`
	JWKSURL                            string `mapstructure:"JWKS_URL"`
	DocumentServiceURL                 string `mapstructure:"DOCUMENT_SERVICE_URL"`
	DocumentServiceInternalAPIKey      string `mapstructure:"DOCUMENT_SERVICE_INTERNAL_API_KEY"`
	TransferMutationRateLimitPerMinute int    `mapstructure:"TRANSFER_MUTATION_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8085")
	viper.SetDefault("TRANSFER_EVENT_EXCHANGE", "assetra.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "assetra:rate_limit")
	viper.SetDefault("TRANSFER_MUTATION_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TRANSFER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("TRANSFER_EVENT_EXCHANGE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("DOCUMENT_SERVICE_URL")
	_ = viper.BindEnv("DOCUMENT_SERVICE_INTERNAL_API_KEY", "DOCUMENT_SERVICE_INTERNAL_API_KEY", "INTERNAL_API_KEY")
	_ = viper.BindEnv("TRANSFER_MUTATION_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.JWKSURL = strings.TrimSpace(config.JWKSURL)
	config.DocumentServiceURL = strings.TrimSpace(config.DocumentServiceURL)
	config.DocumentServiceInternalAPIKey = strings.TrimSpace(config.DocumentServiceInternalAPIKey)
	config.TransferEventExchange = strings.TrimSpace(config.TransferEventExchange)
	if config.TransferEventExchange == "" {
		config.TransferEventExchange = "assetra.events"
	}
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "assetra:rate_limit"
	}

	if config.TransferMutationRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative mutation rate limit configured; disabling limiter\" limit=%d", config.TransferMutationRateLimitPerMinute)
		config.TransferMutationRateLimitPerMinute = 0
	}

	return
}
