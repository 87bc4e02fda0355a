package geo

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

var errNoCoordinates = errors.New("geolite: record has no coordinates")

// CityLookup is satisfied by *geoip2.Reader opened on a GeoLite2 City database.
type CityLookup interface {
	City(ip net.IP) (*geoip2.City, error)
}

// OpenCityDatabase opens a GeoLite2 City mmdb file. The caller closes the reader.
func OpenCityDatabase(path string) (*geoip2.Reader, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geolite: open %s: %w", path, err)
	}
	return reader, nil
}

func lookupCoordinates(db CityLookup, rawIP string) (float64, float64, error) {
	ip := net.ParseIP(rawIP)
	if ip == nil {
		return 0, 0, fmt.Errorf("geolite: invalid ip %q", rawIP)
	}

	record, err := db.City(ip)
	if err != nil {
		return 0, 0, fmt.Errorf("geolite: lookup %s: %w", rawIP, err)
	}

	if record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return 0, 0, errNoCoordinates
	}
	return record.Location.Latitude, record.Location.Longitude, nil
}
