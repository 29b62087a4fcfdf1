package provider

import (
	"context"

	"github.com/cloud66-oss/iphub/utils"
)

// IPProvider is a source of classification data. Lookup returns a nil record without an error when
// the provider has nothing to say about the address.
type IPProvider interface {
	Start(ctx context.Context) error
	Lookup(ctx context.Context, address string) (*utils.ClassificationRecord, error)
	Shutdown(ctx context.Context)
	Refresh(ctx context.Context) error
}
