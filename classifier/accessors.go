package classifier

import (
	"context"

	"github.com/cloud66-oss/iphub/utils"
)

// The accessors below project a single field of Lookup. They return the zero value when there is no
// data, so use Lookup directly to tell "no data" apart from Residential or an empty string.

func (c *IPClassifier) Level(ctx context.Context, ip string) (utils.BlockLevel, error) {
	record, err := c.Lookup(ctx, ip)
	if err != nil || record == nil {
		return utils.Residential, err
	}
	return record.Block, nil
}

func (c *IPClassifier) CountryCode(ctx context.Context, ip string) (string, error) {
	record, err := c.Lookup(ctx, ip)
	if err != nil || record == nil {
		return "", err
	}
	return record.CountryCode, nil
}

func (c *IPClassifier) CountryName(ctx context.Context, ip string) (string, error) {
	record, err := c.Lookup(ctx, ip)
	if err != nil || record == nil {
		return "", err
	}
	return record.CountryName, nil
}

func (c *IPClassifier) ASN(ctx context.Context, ip string) (int, error) {
	record, err := c.Lookup(ctx, ip)
	if err != nil || record == nil {
		return 0, err
	}
	return record.ASN, nil
}

func (c *IPClassifier) ISP(ctx context.Context, ip string) (string, error) {
	record, err := c.Lookup(ctx, ip)
	if err != nil || record == nil {
		return "", err
	}
	return record.ISP, nil
}

func (c *IPClassifier) Hostname(ctx context.Context, ip string) (string, error) {
	record, err := c.Lookup(ctx, ip)
	if err != nil || record == nil {
		return "", err
	}
	return record.Hostname, nil
}
