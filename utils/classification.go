package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// BlockLevel is the IPHub classification of an address
type BlockLevel int

const (
	Residential                  BlockLevel = 0
	NonResidential               BlockLevel = 1
	NonResidentialAndResidential BlockLevel = 2
)

func (l BlockLevel) Valid() bool {
	switch l {
	case Residential, NonResidential, NonResidentialAndResidential:
		return true
	default:
		return false
	}
}

func (l BlockLevel) String() string {
	switch l {
	case Residential:
		return "residential"
	case NonResidential:
		return "non-residential"
	case NonResidentialAndResidential:
		return "mixed"
	default:
		return "unknown(" + strconv.Itoa(int(l)) + ")"
	}
}

// ParseBlockLevel accepts the level names returned by String or their numeric values
func ParseBlockLevel(value string) (BlockLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "residential", "0":
		return Residential, nil
	case "non-residential", "nonresidential", "1":
		return NonResidential, nil
	case "mixed", "non-residential-and-residential", "2":
		return NonResidentialAndResidential, nil
	default:
		return 0, fmt.Errorf("unknown block level %q", value)
	}
}

// ClassificationRecord is the IPHub answer for one address. JSON names follow the IPHub wire format
// so the same encoding is used for the remote response and the cache entry.
//
// IsFallback marks answers from an offline fallback rather than IPHub. It is never serialized, so
// a cache entry always carries an IPHub answer.
type ClassificationRecord struct {
	IP          string     `json:"ip"`
	CountryCode string     `json:"countryCode"`
	CountryName string     `json:"countryName"`
	ASN         int        `json:"asn"`
	ISP         string     `json:"isp"`
	Hostname    string     `json:"hostname,omitempty"`
	Block       BlockLevel `json:"block"`
	IsFallback  bool       `json:"-"`
}
