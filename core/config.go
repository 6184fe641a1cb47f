package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	DatabaseConfig struct {
		Path string
	}

	StorageConfig struct {
		PhotoDir   string
		ReceiptDir string
		ExportDir  string
	}

	ReceiptConfig struct {
		Institution   string
		Currency      string // printed next to amounts, eg: "Rs."
		CurrencyWords string // used for the amount in words, eg: "Rupees"
		AutoOpen      bool
	}

	ServerConfig struct {
		Host            string
		DebugHost       string
		ShutdownTimeout time.Duration
	}

	Config struct {
		Env      string
		Build    string
		AppName  string
		Debug    bool
		TestMode bool

		Database DatabaseConfig
		Storage  StorageConfig
		Receipt  ReceiptConfig
		Server   ServerConfig

		RollbarToken     string
		SendgridApiKey   string
		defaultFromEmail string
	}
)

// NewConfig loads the app configuration from defaults, `config/.env.<env>` (if any) and the environment.
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("build", "dev")
	conf.SetDefault("appName", "Fee Desk")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("database.path", "college_fee.db")
	conf.SetDefault("storage.photoDir", "student_photos")
	conf.SetDefault("storage.receiptDir", "receipts")
	conf.SetDefault("storage.exportDir", "exports")
	conf.SetDefault("receipt.institution", "")
	conf.SetDefault("receipt.currency", "Rs.")
	conf.SetDefault("receipt.currencyWords", "Rupees")
	conf.SetDefault("receipt.autoOpen", true)
	conf.SetDefault("server.host", "127.0.0.1:8000")
	conf.SetDefault("server.debugHost", "127.0.0.1:4000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridApiKey", "")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	case "PROD":
		conf.SetDefault("debug", false)
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	conf.SetEnvPrefix("FEEDESK")
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	conf.AutomaticEnv()

	return &Config{
		Env:      env,
		Build:    conf.GetString("build"),
		AppName:  conf.GetString("appName"),
		Debug:    conf.GetBool("debug"),
		TestMode: conf.GetBool("testMode"),
		Database: DatabaseConfig{
			Path: conf.GetString("database.path"),
		},
		Storage: StorageConfig{
			PhotoDir:   conf.GetString("storage.photoDir"),
			ReceiptDir: conf.GetString("storage.receiptDir"),
			ExportDir:  conf.GetString("storage.exportDir"),
		},
		Receipt: ReceiptConfig{
			Institution:   conf.GetString("receipt.institution"),
			Currency:      conf.GetString("receipt.currency"),
			CurrencyWords: conf.GetString("receipt.currencyWords"),
			AutoOpen:      conf.GetBool("receipt.autoOpen"),
		},
		Server: ServerConfig{
			Host:            conf.GetString("server.host"),
			DebugHost:       conf.GetString("server.debugHost"),
			ShutdownTimeout: conf.GetDuration("server.shutdownTimeout"),
		},
		RollbarToken:     conf.GetString("rollbarToken"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		defaultFromEmail: conf.GetString("defaultFromEmail"),
	}
}

// NewTestConfig returns a Config for tests; all file storage lives under `dir`.
func NewTestConfig(dir string) *Config {
	return &Config{
		Env:      "TEST",
		Build:    "test",
		AppName:  "Fee Desk",
		Debug:    true,
		TestMode: true,
		Database: DatabaseConfig{Path: filepath.Join(dir, "test.db")},
		Storage: StorageConfig{
			PhotoDir:   filepath.Join(dir, "student_photos"),
			ReceiptDir: filepath.Join(dir, "receipts"),
			ExportDir:  filepath.Join(dir, "exports"),
		},
		Receipt: ReceiptConfig{
			Institution:   "Test College",
			Currency:      "Rs.",
			CurrencyWords: "Rupees",
		},
		Server:           ServerConfig{ShutdownTimeout: time.Second},
		defaultFromEmail: "noreply@localhost",
	}
}

func (conf *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: conf.AppName, Address: conf.defaultFromEmail}
}
