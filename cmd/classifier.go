package cmd

import (
	"context"
	"errors"

	"github.com/cloud66-oss/iphub/cache"
	"github.com/cloud66-oss/iphub/classifier"
	"github.com/cloud66-oss/iphub/provider"
	"github.com/cloud66-oss/iphub/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// configureClassifier builds the classifier described by the config and registers it, its provider
// and its cache in the container. metrics may be nil.
func configureClassifier(ctx context.Context, metrics prometheus.Registerer) (*classifier.IPClassifier, error) {
	ipProvider, err := configureProvider(ctx)
	if err != nil {
		return nil, err
	}

	if err := ipProvider.Start(ctx); err != nil {
		return nil, err
	}

	store, err := cache.Open(ctx, viper.GetString("cache.connection"))
	if err != nil {
		ipProvider.Shutdown(ctx)
		return nil, err
	}

	opts := []classifier.Option{
		classifier.WithPrefix(viper.GetString("cache.prefix")),
		classifier.WithTTL(viper.GetDuration("cache.ttl")),
	}

	if metrics != nil {
		m, err := classifier.NewMetrics(metrics)
		if err != nil {
			store.Close()
			ipProvider.Shutdown(ctx)
			return nil, err
		}
		opts = append(opts, classifier.WithMetrics(m))
	}

	ipc := classifier.NewWithProvider(ipProvider, store, opts...)

	utils.Container.Assign(ctx, utils.Provider, ipProvider)
	utils.Container.Assign(ctx, utils.Cache, store)
	utils.Container.Assign(ctx, utils.Classifier, ipc)

	return ipc, nil
}

// configureProvider returns an IPHub provider per configured key followed by the MaxMind fallback
// when enabled. More than one provider is wrapped in a cascade.
func configureProvider(ctx context.Context) (provider.IPProvider, error) {
	var providers []provider.IPProvider

	keys := viper.GetStringSlice("iphub.apikeys")
	if key := viper.GetString("iphub.apikey"); key != "" {
		keys = append([]string{key}, keys...)
	}

	for _, key := range keys {
		p, err := provider.NewIPHubProvider(key,
			provider.WithBaseURL(viper.GetString("iphub.url")),
			provider.WithTimeout(viper.GetDuration("iphub.timeout")),
		)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if viper.GetBool("fallback.maxmind.enabled") {
		p, err := provider.NewMaxMindProvider(ctx, provider.MaxMindDatabases{
			Country:   viper.GetString("fallback.maxmind.db.country"),
			ASN:       viper.GetString("fallback.maxmind.db.asn"),
			Anonymous: viper.GetString("fallback.maxmind.db.anonymous"),
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	switch len(providers) {
	case 0:
		return nil, errors.New("no IPHub API key configured. Use --apikey, IPHUB_IPHUB_APIKEY or iphub.apikey in the config file")
	case 1:
		return providers[0], nil
	default:
		log.Info().Int("providers", len(providers)).Msg("cascading providers")
		return provider.NewCascadeIPProvider(ctx, false, providers)
	}
}

func fetchClassifier(ctx context.Context) *classifier.IPClassifier {
	return utils.Container.Fetch(ctx, utils.Classifier).(*classifier.IPClassifier)
}
