package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/cloud66-oss/iphub/utils"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve classifications over HTTP",
	Run:   execServe,
}

type allowedResponse struct {
	IP      string           `json:"ip"`
	Level   utils.BlockLevel `json:"level"`
	Strict  bool             `json:"strict"`
	Allowed bool             `json:"allowed"`
}

func init() {
	// api server
	serveCmd.PersistentFlags().String("binding", "0.0.0.0", "API binding")
	serveCmd.PersistentFlags().Int("port", 9913, "API port")

	serveCmd.PersistentFlags().Bool("fallback.maxmind.enabled", false, "MaxMind fallback enabled")
	serveCmd.PersistentFlags().String("fallback.maxmind.db.country", "", "MaxMind country database")
	serveCmd.PersistentFlags().String("fallback.maxmind.db.asn", "", "MaxMind ASN database")
	serveCmd.PersistentFlags().String("fallback.maxmind.db.anonymous", "", "MaxMind anonymous IP database")

	viper.BindPFlag("api.binding", serveCmd.PersistentFlags().Lookup("binding"))
	viper.BindPFlag("api.port", serveCmd.PersistentFlags().Lookup("port"))

	viper.BindPFlag("fallback.maxmind.enabled", serveCmd.PersistentFlags().Lookup("fallback.maxmind.enabled"))
	viper.BindPFlag("fallback.maxmind.db.country", serveCmd.PersistentFlags().Lookup("fallback.maxmind.db.country"))
	viper.BindPFlag("fallback.maxmind.db.asn", serveCmd.PersistentFlags().Lookup("fallback.maxmind.db.asn"))
	viper.BindPFlag("fallback.maxmind.db.anonymous", serveCmd.PersistentFlags().Lookup("fallback.maxmind.db.anonymous"))

	// refresh reloads the fallback databases
	viper.SetDefault("refresh", "24h")
}

func getIP(c echo.Context) error {
	ctx := c.Request().Context()
	address := c.Param("address")
	ipc := fetchClassifier(ctx)

	strict, err := boolParam(c, "strict")
	if err != nil {
		return c.JSON(http.StatusBadRequest, utils.ErrorResponse{Error: err.Error()})
	}

	log.Debug().Str("address", address).Bool("strict", strict).Msg("fetching")

	lookup := ipc.Lookup
	if strict {
		lookup = ipc.LookupStrict
	}

	record, err := lookup(ctx, address)
	if err != nil {
		return lookupError(c, address, err)
	}

	if record == nil {
		return c.JSON(http.StatusNotFound, utils.ErrorResponse{
			Error: "no classification data",
		})
	}

	return c.JSON(http.StatusOK, record)
}

func getAllowed(c echo.Context) error {
	ctx := c.Request().Context()
	address := c.Param("address")

	level := utils.Residential
	if value := c.QueryParam("level"); value != "" {
		parsed, err := utils.ParseBlockLevel(value)
		if err != nil {
			return c.JSON(http.StatusBadRequest, utils.ErrorResponse{Error: err.Error()})
		}
		level = parsed
	}

	strict, err := boolParam(c, "strict")
	if err != nil {
		return c.JSON(http.StatusBadRequest, utils.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, allowedResponse{
		IP:      address,
		Level:   level,
		Strict:  strict,
		Allowed: fetchClassifier(ctx).IsAllowed(ctx, address, level, strict),
	})
}

func deleteIP(c echo.Context) error {
	ctx := c.Request().Context()
	address := c.Param("address")

	if err := fetchClassifier(ctx).RemoveFromCache(ctx, address); err != nil {
		log.Error().Err(err).Str("address", address).Msg("failed to remove from cache")
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, utils.ErrorResponse{Error: "failed to remove from cache"})
	}

	return c.NoContent(http.StatusNoContent)
}

func lookupError(c echo.Context, address string, err error) error {
	var rle *utils.RateLimitError
	if errors.As(err, &rle) {
		if rle.RetryAfter > 0 {
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
		}
		return c.JSON(http.StatusTooManyRequests, utils.ErrorResponse{Error: err.Error()})
	}

	var ipErr *utils.IpAddressError
	if errors.As(err, &ipErr) {
		return c.JSON(http.StatusBadRequest, utils.ErrorResponse{Error: ipErr.Error()})
	}

	var ue *utils.UnavailableError
	if errors.As(err, &ue) {
		return c.JSON(http.StatusServiceUnavailable, utils.ErrorResponse{Error: err.Error()})
	}

	log.Error().Str("address", address).Err(err).Msg("failed to lookup ip address")
	sentry.CaptureException(err)
	return c.JSON(http.StatusInternalServerError, utils.ErrorResponse{Error: "lookup failed"})
}

func boolParam(c echo.Context, name string) (bool, error) {
	value := c.QueryParam(name)
	if value == "" {
		return false, nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q", name, value)
	}

	return b, nil
}

func execServe(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	ipc, err := configureClassifier(ctx, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start classifier")
	}

	log.Info().
		Str("cache", viper.GetString("cache.prefix")).
		Dur("ttl", viper.GetDuration("cache.ttl")).
		Msg("classifier ready")

	err = startServer(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start the api server")
	}

	if err := ipc.Close(ctx); err != nil {
		log.Error().Err(err).Msg("failed to close the cache")
	}
}

func ping(c echo.Context) error {
	return c.String(http.StatusOK, "pong")
}

func newServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(utils.ZeroLogger(&log.Logger))
	e.GET("/_ping", ping)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/v1/ip/:address", getIP)
	e.GET("/v1/ip/:address/allowed", getAllowed)
	e.DELETE("/v1/ip/:address", deleteIP)

	return e
}

func startServer(ctx context.Context) error {
	e := newServer()

	go func() {
		if err := e.Start(fmt.Sprintf("%s:%d", viper.GetString("api.binding"), viper.GetInt("api.port"))); err != nil {
			if err != http.ErrServerClosed {
				log.Error().Err(err).Msg("failed to start the server")
			}
		}
	}()

	stopRefresh := make(chan bool)
	// refresh in intervals
	ticker := time.NewTicker(viper.GetDuration("refresh"))
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.Info().Msg("refreshing providers")
				if err := fetchClassifier(ctx).Refresh(ctx); err != nil {
					log.Error().Err(err).Msg("failed to refresh provider")
				}
			case <-stopRefresh:
				log.Info().Msg("stopping refresh")
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	stopRefresh <- true

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return e.Shutdown(ctx)
}
