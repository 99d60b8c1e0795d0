package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	apiURL   string
	apiToken string
	dbPath   string
	redisURL string
	logLevel string
	logDir   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "helium-console",
	Short: "Terminal console for Helium forensic cases",
	Long: `helium-console follows a Helium case live from the terminal.

It keeps a local view of a case (collectors, collections, analyses, active
users and disk usage) in step with the server event stream and lets you act
on it: start, restart or delete analyses, upload collections, edit or close
the case.

Features:
- Live case view (TUI) driven by the case event stream
- Headless watch mode with an activity log and Prometheus metrics
- Optional Redis Streams relay of case events between consoles
- Local SQLite storage for preferences and visited cases`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.helium-console.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8000", "Helium server URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Helium API token")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/helium-console.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Redis connection URL for the event relay (empty disables it)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "./logs", "Directory for log files while the TUI is running")

	// Bind flags to viper
	viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api"))
	viper.BindPFlag("api.token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.dir", rootCmd.PersistentFlags().Lookup("log-dir"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".helium-console" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".helium-console")
	}

	bindEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	setDefaults()
}

// bindEnv maps keys to HELIUM_ variables: api.url is HELIUM_API_URL.
func bindEnv() {
	viper.SetEnvPrefix("HELIUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func setDefaults() {
	viper.SetDefault("api.url", "http://localhost:8000")
	viper.SetDefault("api.timeout", "30s")
	viper.SetDefault("api.rate", 10.0)
	viper.SetDefault("database.path", "./data/helium-console.db")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.dir", "./logs")
	viper.SetDefault("ui.theme", "")
	viper.SetDefault("ui.banner", "")
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	timeout := viper.GetDuration("api.timeout")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return Config{
		API: APIConfig{
			URL:     viper.GetString("api.url"),
			Token:   viper.GetString("api.token"),
			Timeout: timeout,
			Rate:    viper.GetFloat64("api.rate"),
		},
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("redis.url"),
		},
		Log: LogConfig{
			Level: strings.ToLower(viper.GetString("log.level")),
			Dir:   viper.GetString("log.dir"),
		},
		UI: UIConfig{
			Theme:  viper.GetString("ui.theme"),
			Banner: viper.GetString("ui.banner"),
		},
	}
}

// Config represents the application configuration
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	UI       UIConfig       `mapstructure:"ui"`
}

type APIConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Rate is the sustained request rate per second, 0 disables limiting.
	Rate float64 `mapstructure:"rate"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// Debug reports whether debug lines are enabled.
func (c LogConfig) Debug() bool {
	return c.Level == "debug"
}

type UIConfig struct {
	Theme string `mapstructure:"theme"`
	// Banner is shown once per text until acknowledged.
	Banner string `mapstructure:"banner"`
}
