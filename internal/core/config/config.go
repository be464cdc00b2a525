package config

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/spf13/viper"
)

// AppConfig holds the configuration for the return worker.
// Tags used:
// - mapstructure: used by viper to unmarshal
// - default: default value to set if missing
// - required: if "true", error if missing
type AppConfig struct {
	// Environment specifies the runtime environment (e.g., development, production).
	Environment string `mapstructure:"APP_ENV" default:"development"`
	// LogLevel defines the logging verbosity (e.g., debug, info, error).
	LogLevel string `mapstructure:"LOG_LEVEL" default:"info"`
	// ServerPort is the port where the admin server will listen.
	ServerPort int `mapstructure:"SERVER_PORT" default:"8080"`

	// Database holds the worker database configuration.
	Database DatabaseConfig `mapstructure:",squash"`

	// Redis holds the Redis configuration used for the session store.
	Redis RedisConfig `mapstructure:",squash"`

	// Portal holds the seller portal credentials and browser settings.
	Portal PortalConfig `mapstructure:",squash"`

	// ERP holds the connection details for the merchandise management mirror.
	ERP ERPConfig `mapstructure:",squash"`

	// Carrier holds the DHL label and tracking API credentials.
	Carrier CarrierConfig `mapstructure:",squash"`

	// Storage holds the S3 label storage configuration.
	Storage StorageConfig `mapstructure:",squash"`

	// Retry holds the retry and circuit breaker tuning.
	Retry RetryConfig `mapstructure:",squash"`

	// Worker holds the cycle scheduling configuration.
	Worker WorkerConfig `mapstructure:",squash"`
}

// DatabaseConfig holds the worker database connection details.
type DatabaseConfig struct {
	// DSN is the Postgres connection string for the worker database.
	DSN string `mapstructure:"DB_DSN" required:"true"`
}

// RedisConfig holds the Redis connection details.
type RedisConfig struct {
	// URL is the Redis connection string, e.g. redis://localhost:6379/0.
	URL string `mapstructure:"REDIS_URL" default:"redis://localhost:6379/0"`
}

// PortalConfig holds seller portal credentials and browser automation settings.
type PortalConfig struct {
	// BaseURL is the seller portal origin.
	BaseURL string `mapstructure:"PORTAL_BASE_URL" default:"https://sellercentral.amazon.de"`
	// Email is the portal login email.
	Email string `mapstructure:"PORTAL_EMAIL" required:"true"`
	// Password is the portal login password.
	Password string `mapstructure:"PORTAL_PASSWORD" required:"true"`
	// OTPSecret is the TOTP secret used for the second login factor.
	OTPSecret string `mapstructure:"PORTAL_OTP_SECRET"`
	// MerchantID identifies the seller account on the portal.
	MerchantID string `mapstructure:"PORTAL_MERCHANT_ID" required:"true"`
	// MarketplaceID identifies the marketplace the worker operates on.
	MarketplaceID string `mapstructure:"PORTAL_MARKETPLACE_ID" default:"A1PA6795UKMFR9"`
	// ProfileDir is the persistent browser profile directory.
	ProfileDir string `mapstructure:"BROWSER_PROFILE_DIR" default:".profile"`
	// Headless controls whether the login browser runs headless.
	Headless bool `mapstructure:"BROWSER_HEADLESS" default:"true"`
}

// ERPConfig holds the merchandise management database connection details.
type ERPConfig struct {
	// DSN is the Postgres connection string for the ERP mirror.
	DSN string `mapstructure:"ERP_DSN" required:"true"`
}

// CarrierConfig holds DHL API credentials for labels and tracking.
type CarrierConfig struct {
	// LabelAPIKey is the DHL Parcel DE Returns API key.
	LabelAPIKey string `mapstructure:"DHL_LABEL_API_KEY"`
	// LabelAPISecret is the DHL Parcel DE Returns API secret.
	LabelAPISecret string `mapstructure:"DHL_LABEL_API_SECRET"`
	// LabelUser is the DHL business account user for label creation.
	LabelUser string `mapstructure:"DHL_LABEL_USER"`
	// LabelPassword is the DHL business account password for label creation.
	LabelPassword string `mapstructure:"DHL_LABEL_PASSWORD"`
	// ReceiverID is the DHL returns receiver id the labels are booked against.
	ReceiverID string `mapstructure:"DHL_RECEIVER_ID"`
	// TrackingAppName is the application name for the DHL tracking XML API.
	TrackingAppName string `mapstructure:"DHL_TRACKING_APP_NAME"`
	// TrackingPassword is the password for the DHL tracking XML API.
	TrackingPassword string `mapstructure:"DHL_TRACKING_PASSWORD"`
	// TrackingZTToken is the zt-token pair for the DHL tracking XML API.
	TrackingZTToken string `mapstructure:"DHL_TRACKING_ZT_TOKEN"`
}

// StorageConfig holds the S3 label storage details.
type StorageConfig struct {
	// Bucket is the S3 bucket holding generated label documents.
	Bucket string `mapstructure:"S3_BUCKET" required:"true"`
	// Region is the AWS region of the bucket.
	Region string `mapstructure:"AWS_REGION" default:"eu-central-1"`
	// Endpoint optionally points S3 calls at a compatible service (e.g. MinIO).
	Endpoint string `mapstructure:"S3_ENDPOINT"`
	// AccessKey is an optional static access key; the default AWS chain is
	// used when empty.
	AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	// SecretKey is the secret for AccessKey.
	SecretKey string `mapstructure:"S3_SECRET_KEY"`
}

// RetryConfig holds retry and circuit breaker tuning.
type RetryConfig struct {
	// MaxAttempts is the number of attempts per guarded operation.
	MaxAttempts int `mapstructure:"RETRY_MAX_ATTEMPTS" default:"3"`
	// WaitSeconds is the base wait before the first retry.
	WaitSeconds int `mapstructure:"RETRY_WAIT_SECONDS" default:"60"`
	// BackoffMultiplier scales the wait for each further retry.
	BackoffMultiplier float64 `mapstructure:"RETRY_BACKOFF_MULTIPLIER" default:"2"`
	// BreakerThreshold is the consecutive failure count that opens the circuit.
	BreakerThreshold int `mapstructure:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`
	// BreakerResetSeconds is how long the circuit stays open before probing.
	BreakerResetSeconds int `mapstructure:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"300"`
	// SessionBudgetSeconds is the wall clock budget for session initialization.
	SessionBudgetSeconds int `mapstructure:"SESSION_INIT_BUDGET" default:"600"`
}

// WorkerConfig holds the processing cycle scheduling settings.
type WorkerConfig struct {
	// PollIntervalSeconds is how often the run loop checks the schedule.
	PollIntervalSeconds int `mapstructure:"WORKER_POLL_INTERVAL" default:"10"`
	// DaysBack is the ingestion window for portal return requests.
	DaysBack int `mapstructure:"WORKER_DAYS_BACK" default:"90"`
	// ScheduleTimes are the daily cycle start times as HH:MM, comma separated.
	ScheduleTimes string `mapstructure:"WORKER_SCHEDULE_TIMES" default:"06:00,12:00,18:00"`
}

// Load loads configuration from .env files and environment variables.
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config AppConfig

	if err := processTags(v, &config); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := validateRequired(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// processTags iterates over the struct fields and sets default values in Viper.
func processTags(v *viper.Viper, config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := processTags(v, val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		key := field.Tag.Get("mapstructure")
		defaultValue := field.Tag.Get("default")

		if key != "" {
			v.BindEnv(key)
		}

		if key != "" && defaultValue != "" {
			v.SetDefault(key, defaultValue)
		}
	}
	return nil
}

// validateRequired checks if fields marked as required have non-zero values.
func validateRequired(config interface{}) error {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	t := val.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := validateRequired(val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}

		required := field.Tag.Get("required")
		if required == "true" {
			value := val.Field(i)
			if isZero(value) {
				key := field.Tag.Get("mapstructure")
				return fmt.Errorf("missing required configuration: %s", key)
			}
		}
	}
	return nil
}

// isZero checks if a reflect.Value is the zero value for its type.
func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.String() == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}
