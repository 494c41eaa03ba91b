// Package config loads the printer service configuration from defaults, an
// optional YAML file, ESCPOS_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nixxel-company-limited/escpos-raster-printer/adapter"
	"github.com/nixxel-company-limited/escpos-raster-printer/printer"
	"github.com/nixxel-company-limited/escpos-raster-printer/qr"
	"github.com/nixxel-company-limited/escpos-raster-printer/raster"
)

// EnvPrefix prefixes every environment override, e.g. ESCPOS_SERVER_ADDRESS.
const EnvPrefix = "ESCPOS"

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Printer PrinterConfig `mapstructure:"printer"`
	Paper   PaperConfig   `mapstructure:"paper"`
	Fonts   FontsConfig   `mapstructure:"fonts"`
	QR      QRConfig      `mapstructure:"qr"`
	Receipt ReceiptConfig `mapstructure:"receipt"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig represents the raw TCP print port
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// PrinterConfig represents the USB printer and session settings
type PrinterConfig struct {
	VendorID      string `mapstructure:"vendor_id"`
	ProductID     string `mapstructure:"product_id"`
	Configuration int    `mapstructure:"configuration"`
	Interface     int    `mapstructure:"interface"`
	Endpoint      int    `mapstructure:"endpoint"`
	ChunkSize     int    `mapstructure:"chunk_size"`
	AnyPrinter    bool   `mapstructure:"any_printer"`
	Cut           string `mapstructure:"cut"`
	SpacingPx     int    `mapstructure:"spacing_px"`
	QRFeedLines   int    `mapstructure:"qr_feed_lines"`
}

// PaperConfig represents the printable area
type PaperConfig struct {
	WidthDot int `mapstructure:"width_dot"`
}

// FontsConfig maps font families to TTF/OTF files
type FontsConfig struct {
	DefaultFamily string            `mapstructure:"default_family"`
	Files         map[string]string `mapstructure:"files"`
}

// QRConfig represents QR symbol settings
type QRConfig struct {
	Recovery string `mapstructure:"recovery"`
	Border   bool   `mapstructure:"border"`
}

// ReceiptConfig represents the fortune receipt
type ReceiptConfig struct {
	Title        string `mapstructure:"title"`
	FortunesFile string `mapstructure:"fortunes_file"`
	ShareURL     string `mapstructure:"share_url"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads the configuration. An empty path searches for config.yaml in
// the working directory and /etc/escpos-raster-printer and tolerates its
// absence; an explicit path must exist. Flags, when given, override
// everything else; a flag named "address" binds to "server.address" through
// FlagKeys.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/escpos-raster-printer")
	}

	// Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"address":     "server.address",
	"vendor-id":   "printer.vendor_id",
	"product-id":  "printer.product_id",
	"any-printer": "printer.any_printer",
	"cut":         "printer.cut",
	"paper-width": "paper.width_dot",
	"font":        "fonts.default_family",
	"log-level":   "logging.level",
	"log-format":  "logging.format",
	"fortunes":    "receipt.fortunes_file",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", "localhost:9100")

	// Printer defaults
	v.SetDefault("printer.vendor_id", fmt.Sprintf("0x%04x", printer.DefaultVendorID))
	v.SetDefault("printer.product_id", fmt.Sprintf("0x%04x", printer.DefaultProductID))
	v.SetDefault("printer.configuration", printer.DefaultConfiguration)
	v.SetDefault("printer.interface", printer.DefaultInterface)
	v.SetDefault("printer.endpoint", printer.DefaultEndpoint)
	v.SetDefault("printer.chunk_size", printer.DefaultChunkSize)
	v.SetDefault("printer.any_printer", false)
	v.SetDefault("printer.cut", "full")
	v.SetDefault("printer.spacing_px", printer.DefaultSpacingPx)
	v.SetDefault("printer.qr_feed_lines", printer.DefaultQRFeedLines)

	v.SetDefault("paper.width_dot", raster.DefaultWidthDot)

	v.SetDefault("fonts.default_family", "goregular")
	v.SetDefault("fonts.files", map[string]string{})

	v.SetDefault("qr.recovery", "medium")
	v.SetDefault("qr.border", false)

	v.SetDefault("receipt.title", "")
	v.SetDefault("receipt.fortunes_file", "")
	v.SetDefault("receipt.share_url", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if _, err := c.DeviceID(); err != nil {
		return err
	}
	if c.Printer.Configuration < 1 {
		return fmt.Errorf("printer.configuration must be positive, got %d", c.Printer.Configuration)
	}
	if c.Printer.Interface < 0 {
		return fmt.Errorf("printer.interface must not be negative, got %d", c.Printer.Interface)
	}
	if c.Printer.Endpoint < 1 || c.Printer.Endpoint > 15 {
		return fmt.Errorf("printer.endpoint must be between 1 and 15, got %d", c.Printer.Endpoint)
	}
	if c.Printer.ChunkSize < 1 {
		return fmt.Errorf("printer.chunk_size must be positive, got %d", c.Printer.ChunkSize)
	}
	if _, err := printer.ParseCutMode(c.Printer.Cut); err != nil {
		return fmt.Errorf("printer.cut: %w", err)
	}
	if c.Paper.WidthDot < 8 {
		return fmt.Errorf("paper.width_dot must be at least 8, got %d", c.Paper.WidthDot)
	}
	if _, err := qr.ParseRecovery(c.QR.Recovery); err != nil {
		return fmt.Errorf("qr.recovery: %w", err)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}
	validFormats := []string{"json", "console"}
	if !slices.Contains(validFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of: %v", validFormats)
	}
	return nil
}

// DeviceID returns the configured USB identity.
func (c *Config) DeviceID() (printer.DeviceID, error) {
	vendor, err := adapter.ParseID(c.Printer.VendorID)
	if err != nil {
		return printer.DeviceID{}, fmt.Errorf("printer.vendor_id: %w", err)
	}
	product, err := adapter.ParseID(c.Printer.ProductID)
	if err != nil {
		return printer.DeviceID{}, fmt.Errorf("printer.product_id: %w", err)
	}
	return printer.DeviceID{Vendor: vendor, Product: product}, nil
}

// SessionOptions converts the printer, paper and font settings.
func (c *Config) SessionOptions() (printer.Options, error) {
	id, err := c.DeviceID()
	if err != nil {
		return printer.Options{}, err
	}
	cut, err := printer.ParseCutMode(c.Printer.Cut)
	if err != nil {
		return printer.Options{}, err
	}
	return printer.Options{
		Identity:      id,
		Configuration: c.Printer.Configuration,
		Interface:     c.Printer.Interface,
		Endpoint:      c.Printer.Endpoint,
		ChunkSize:     c.Printer.ChunkSize,
		PaperWidthDot: c.Paper.WidthDot,
		FontFamily:    c.Fonts.DefaultFamily,
		SpacingPx:     c.Printer.SpacingPx,
		QRFeedLines:   c.Printer.QRFeedLines,
		Cut:           cut,
	}, nil
}
