package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloud66-oss/iphub/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/getsentry/sentry-go"
	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "iphub",
	Short: "iphub classifies IP addresses as residential or not, with a cache in front of IPHub",

	// Execute reports errors itself
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = utils.Version
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/iphub.yml)")
	rootCmd.PersistentFlags().String("level", "info", "log level")
	rootCmd.PersistentFlags().String("log-format", "json", "log format: json or text")

	rootCmd.PersistentFlags().String("apikey", "", "IPHub API key")
	rootCmd.PersistentFlags().StringSlice("apikeys", nil, "additional IPHub API keys, used in turn when one is rate limited")
	rootCmd.PersistentFlags().String("url", "http://v2.api.iphub.info", "IPHub API url")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "IPHub request timeout")
	rootCmd.PersistentFlags().String("cache", "memory://", "cache connection: redis://host:port/db or memory://?size=N")
	rootCmd.PersistentFlags().String("prefix", "iphub", "cache key prefix")
	rootCmd.PersistentFlags().Duration("ttl", time.Hour, "cache entry time to live")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("iphub.apikey", rootCmd.PersistentFlags().Lookup("apikey"))
	viper.BindPFlag("iphub.apikeys", rootCmd.PersistentFlags().Lookup("apikeys"))
	viper.BindPFlag("iphub.url", rootCmd.PersistentFlags().Lookup("url"))
	viper.BindPFlag("iphub.timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("cache.connection", rootCmd.PersistentFlags().Lookup("cache"))
	viper.BindPFlag("cache.prefix", rootCmd.PersistentFlags().Lookup("prefix"))
	viper.BindPFlag("cache.ttl", rootCmd.PersistentFlags().Lookup("ttl"))

	viper.SetDefault("iphub.url", "http://v2.api.iphub.info")
	viper.SetDefault("iphub.timeout", "10s")
	viper.SetDefault("cache.connection", "memory://")
	viper.SetDefault("cache.prefix", "iphub")
	viper.SetDefault("cache.ttl", "1h")

	viper.SetDefault("fallback.maxmind.enabled", false)
	viper.SetDefault("fallback.maxmind.db.country", "")
	viper.SetDefault("fallback.maxmind.db.asn", "")
	viper.SetDefault("fallback.maxmind.db.anonymous", "")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(allowedCmd)
	rootCmd.AddCommand(cacheCmd)
}

func configureLogging(_ context.Context) {
	level, err := zerolog.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		fmt.Println("invalid log level")
		os.Exit(1)
	}

	if viper.GetString("log.format") == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(level)
	if level == zerolog.TraceLevel {
		log.Logger = log.With().Caller().Logger()
	}
}

// Execute runs the command line and returns the process exit status
func Execute() int {
	return exitStatus(rootCmd.Execute())
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}

	// a blocked address is an answer, not a failure
	if !errors.Is(err, errBlocked) {
		fmt.Println(err)
	}

	return 1
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Printf("home directory not found %s\n", err.Error())
			os.Exit(1)
		}

		viper.AddConfigPath(".")
		viper.AddConfigPath(home)
		viper.AddConfigPath("/app")
		viper.SetConfigName("iphub")
	}

	replacer := strings.NewReplacer("-", "_", ".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.SetEnvPrefix("IPHUB")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	ctx := context.Background()
	configureLogging(ctx)

	if dsn := viper.GetString("sentry.dsn"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Release: utils.Version}); err != nil {
			log.Warn().Err(err).Msg("failed to initialize Sentry")
		} else {
			log.Info().Msg("Sentry error tracking enabled")
		}
	}

	if viper.ConfigFileUsed() == "" {
		return
	}

	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		ctx := context.Background()
		log.Info().Str("file", e.Name).Msg("reloading config")
		configureLogging(ctx)
	})
}
