package util

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config struct.
// Values are read from the process environment, optionally seeded from a .env file.
// Every key has a default so the server can boot locally with sqlite and no mail server.
type Config struct {
	// Storage
	DBDriver  string // postgres or sqlite
	DBDSN     string // Connection string for the driver above
	RedisAddr string // Redis address for background workers and the IPN lock

	// Server
	ServerPort      string
	ServerDomain    string        // Public URL of this server, used for PayPal notify/return URLs
	SecretKey       string        // JWT signing key
	TokenExpiration time.Duration // Access token lifetime
	RateLimit       float64       // Requests per second per client on rate limited routes

	// Email
	Email               string // SMTP login
	AppPassword         string // SMTP password
	SMTPHost            string
	SMTPPort            string
	DefaultFromEmail    string
	SupportEmail        string
	StudioEmail         string
	EmailSubjectPrefix  string
	SendAllStudioEmails bool // Whether the studio is copied on every payment email

	// PayPal
	PaypalReceiverEmail string // Default business email when the payable has none
	PaypalPostbackURL   string // IPN verification endpoint
	PaypalVerify        bool   // Post IPNs back to PayPal before processing
	Currency            string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Cloudinary
	CloudStorageName   string // Cloudinary cloud name
	CloudStorageKey    string // Cloudinary API key
	CloudStorageSecret string // Cloudinary secret key

	// Workers
	MaxWorkers    int
	SweepCron     string // Schedule of the unpaid booking sweep
	TimetableCron string // Schedule of next week's class creation
}

// Constructor method for Config struct
func NewConfig() *Config {
	return &Config{}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "studiobook.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_DOMAIN", "http://localhost:8080")
	v.SetDefault("SECRET_KEY", "")
	v.SetDefault("TOKEN_EXPIRATION", "24h")
	v.SetDefault("RATE_LIMIT", 5)
	v.SetDefault("SMTP_HOST", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", "587")
	v.SetDefault("DEFAULT_FROM_EMAIL", "noreply@studiobook.local")
	v.SetDefault("SUPPORT_EMAIL", "support@studiobook.local")
	v.SetDefault("DEFAULT_STUDIO_EMAIL", "studio@studiobook.local")
	v.SetDefault("EMAIL_SUBJECT_PREFIX", "[studiobook]")
	v.SetDefault("SEND_ALL_STUDIO_EMAILS", true)
	v.SetDefault("PAYPAL_POSTBACK_URL", "https://ipnpb.paypal.com/cgi-bin/webscr")
	v.SetDefault("PAYPAL_VERIFY", true)
	v.SetDefault("CURRENCY", "GBP")
	v.SetDefault("MAX_WORKERS", 10)
	v.SetDefault("SWEEP_CRON", "*/15 * * * *")
	v.SetDefault("TIMETABLE_CRON", "0 20 * * SUN")
}

// Load config from .env (if present) and the environment.
// A missing .env file is returned as an error but the config is still filled from the environment,
// the caller decides whether that is fatal.
func (config *Config) LoadConfig(path string) error {
	envErr := godotenv.Load(path)

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	config.DBDriver = v.GetString("DB_DRIVER")
	config.DBDSN = v.GetString("DB_DSN")
	config.RedisAddr = v.GetString("REDIS_ADDR")

	config.ServerPort = v.GetString("SERVER_PORT")
	config.ServerDomain = strings.TrimRight(v.GetString("SERVER_DOMAIN"), "/")
	config.SecretKey = v.GetString("SECRET_KEY")
	config.TokenExpiration = v.GetDuration("TOKEN_EXPIRATION")
	config.RateLimit = v.GetFloat64("RATE_LIMIT")

	config.Email = v.GetString("EMAIL")
	config.AppPassword = v.GetString("APP_PASSWORD")
	config.SMTPHost = v.GetString("SMTP_HOST")
	config.SMTPPort = v.GetString("SMTP_PORT")
	config.DefaultFromEmail = v.GetString("DEFAULT_FROM_EMAIL")
	config.SupportEmail = v.GetString("SUPPORT_EMAIL")
	config.StudioEmail = v.GetString("DEFAULT_STUDIO_EMAIL")
	config.EmailSubjectPrefix = v.GetString("EMAIL_SUBJECT_PREFIX")
	config.SendAllStudioEmails = v.GetBool("SEND_ALL_STUDIO_EMAILS")

	config.PaypalReceiverEmail = v.GetString("PAYPAL_RECEIVER_EMAIL")
	config.PaypalPostbackURL = v.GetString("PAYPAL_POSTBACK_URL")
	config.PaypalVerify = v.GetBool("PAYPAL_VERIFY")
	config.Currency = v.GetString("CURRENCY")

	config.StripeSecretKey = v.GetString("STRIPE_SECRET_KEY")
	config.StripeWebhookSecret = v.GetString("STRIPE_WEBHOOK_SECRET")

	config.CloudStorageName = v.GetString("CLOUDINARY_NAME")
	config.CloudStorageKey = v.GetString("CLOUDINARY_APIKEY")
	config.CloudStorageSecret = v.GetString("CLOUDINARY_APISECRET")

	config.MaxWorkers = v.GetInt("MAX_WORKERS")
	config.SweepCron = v.GetString("SWEEP_CRON")
	config.TimetableCron = v.GetString("TIMETABLE_CRON")

	return envErr
}
