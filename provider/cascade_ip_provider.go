package provider

import (
	"context"
	"errors"

	"github.com/cloud66-oss/iphub/utils"
	"github.com/rs/zerolog/log"
)

// CascadeIPProvider tries its providers in order. A rate limited provider always hands over to the
// next one, so several IPHub keys (and an offline fallback) can share the load.
type CascadeIPProvider struct {
	providers    []IPProvider
	stopAtErrors bool
}

func NewCascadeIPProvider(ctx context.Context, stopAtErrors bool, providers []IPProvider) (*CascadeIPProvider, error) {
	if len(providers) == 0 {
		return nil, errors.New("cascade needs at least one provider")
	}

	return &CascadeIPProvider{
		providers:    providers,
		stopAtErrors: stopAtErrors,
	}, nil
}

func (dpi *CascadeIPProvider) Start(ctx context.Context) error {
	for _, provider := range dpi.providers {
		if err := provider.Start(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (dpi *CascadeIPProvider) Lookup(ctx context.Context, address string) (*utils.ClassificationRecord, error) {
	var rateLimited *utils.RateLimitError
	var lastErr error

	for idx, provider := range dpi.providers {
		record, err := provider.Lookup(ctx, address)
		if err != nil {
			var rle *utils.RateLimitError
			if errors.As(err, &rle) {
				log.Warn().Int("provider", idx).Str("address", address).Msg("provider rate limited, moving on to next provider")
				rateLimited = rle
				continue
			}

			if dpi.stopAtErrors {
				return nil, err
			}

			log.Err(err).Int("provider", idx).Msg("error while looking up IP address, moving on to next provider")
			lastErr = err
			continue
		}

		if record != nil {
			return record, nil
		}
	}

	// the caller has to back off if every provider that could have answered is out of quota
	if rateLimited != nil {
		return nil, rateLimited
	}

	if lastErr != nil {
		return nil, lastErr
	}

	// not found
	return nil, nil
}

func (dpi *CascadeIPProvider) Shutdown(ctx context.Context) {
	for _, provider := range dpi.providers {
		provider.Shutdown(ctx)
	}
}

func (dpi *CascadeIPProvider) Refresh(ctx context.Context) error {
	for _, provider := range dpi.providers {
		if err := provider.Refresh(ctx); err != nil {
			return err
		}
	}

	return nil
}
