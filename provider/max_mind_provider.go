package provider

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cloud66-oss/iphub/utils"
	"github.com/jinzhu/copier"
	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
)

// MaxMindDatabases lists the local database files. Any of them can be left empty.
type MaxMindDatabases struct {
	Country   string
	ASN       string
	Anonymous string
}

// MaxMindProvider classifies from local MaxMind databases when the remote service can't. Without
// an anonymous IP database it has no opinion on the block level and returns no data.
type MaxMindProvider struct {
	files MaxMindDatabases

	mu          sync.RWMutex
	countryDb   *geoip2.Reader
	asnDb       *geoip2.Reader
	anonymousDb *geoip2.Reader
}

type asnInfo struct {
	AutonomousSystemNumber       uint
	AutonomousSystemOrganization string
}

type anonymousInfo struct {
	IsAnonymous       bool
	IsAnonymousVPN    bool
	IsHostingProvider bool
	IsPublicProxy     bool
	IsTorExitNode     bool
}

func NewMaxMindProvider(ctx context.Context, files MaxMindDatabases) (*MaxMindProvider, error) {
	return &MaxMindProvider{files: files}, nil
}

func readMaxMindDb(_ context.Context, file string) (*geoip2.Reader, error) {
	if file == "" {
		return nil, nil
	}

	if !utils.FileExists(file) {
		return nil, fmt.Errorf("file not found %s", file)
	}

	db, err := geoip2.Open(file)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func (mmp *MaxMindProvider) Start(ctx context.Context) error {
	log.Info().Msg("starting MaxMind Provider")

	if err := mmp.loadDatabases(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to load MaxMind databases")
		return nil
	}

	if mmp.anonymousDb == nil {
		log.Warn().Msg("no MaxMind anonymous IP database, fallback classification is disabled")
	}

	return nil
}

func (mmp *MaxMindProvider) Lookup(ctx context.Context, address string) (*utils.ClassificationRecord, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, &utils.IpAddressError{}
	}

	mmp.mu.RLock()
	defer mmp.mu.RUnlock()

	if mmp.anonymousDb == nil {
		return nil, nil
	}

	anon, err := mmp.anonymousDb.AnonymousIP(ip)
	if err != nil {
		return nil, err
	}

	var traits anonymousInfo
	if err := copier.Copy(&traits, anon); err != nil {
		return nil, err
	}

	record := &utils.ClassificationRecord{
		IP:         address,
		Block:      blockLevelFromTraits(traits),
		IsFallback: true,
	}

	if mmp.asnDb != nil {
		asn, err := mmp.asnDb.ASN(ip)
		if err != nil {
			return nil, err
		}

		var info asnInfo
		if err := copier.Copy(&info, asn); err != nil {
			return nil, err
		}

		record.ASN = int(info.AutonomousSystemNumber)
		record.ISP = info.AutonomousSystemOrganization
	}

	if mmp.countryDb != nil {
		country, err := mmp.countryDb.Country(ip)
		if err != nil {
			return nil, err
		}

		record.CountryCode = country.Country.IsoCode
		record.CountryName = country.Country.Names["en"]
	}

	return record, nil
}

func blockLevelFromTraits(traits anonymousInfo) utils.BlockLevel {
	if traits.IsHostingProvider || traits.IsPublicProxy || traits.IsAnonymousVPN || traits.IsTorExitNode {
		return utils.NonResidential
	}
	if traits.IsAnonymous {
		return utils.NonResidentialAndResidential
	}

	return utils.Residential
}

func (mmp *MaxMindProvider) Shutdown(ctx context.Context) {
	log.Info().Msg("shutting down MaxMind Provider")

	mmp.mu.Lock()
	defer mmp.mu.Unlock()

	closeDbs(mmp.countryDb, mmp.asnDb, mmp.anonymousDb)
	mmp.countryDb, mmp.asnDb, mmp.anonymousDb = nil, nil, nil
}

// Refresh reopens the database files so updates written by an external downloader are picked up
func (mmp *MaxMindProvider) Refresh(ctx context.Context) error {
	log.Info().Msg("refreshing MaxMind Provider")

	return mmp.loadDatabases(ctx)
}

func (mmp *MaxMindProvider) loadDatabases(ctx context.Context) error {
	countryDb, err := readMaxMindDb(ctx, mmp.files.Country)
	if err != nil {
		return err
	}

	asnDb, err := readMaxMindDb(ctx, mmp.files.ASN)
	if err != nil {
		closeDbs(countryDb)
		return err
	}

	anonymousDb, err := readMaxMindDb(ctx, mmp.files.Anonymous)
	if err != nil {
		closeDbs(countryDb, asnDb)
		return err
	}

	mmp.mu.Lock()
	old := []*geoip2.Reader{mmp.countryDb, mmp.asnDb, mmp.anonymousDb}
	mmp.countryDb, mmp.asnDb, mmp.anonymousDb = countryDb, asnDb, anonymousDb
	mmp.mu.Unlock()

	closeDbs(old...)

	return nil
}

func closeDbs(dbs ...*geoip2.Reader) {
	for _, db := range dbs {
		if db != nil {
			db.Close()
		}
	}
}
