// Package geoip annotates resolved upstream addresses with their country,
// backed by a user-supplied MaxMind database file.
package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// Locator answers country lookups against an mmdb file.
type Locator struct {
	reader *maxminddb.Reader
}

// Open loads the database at path.
func Open(path string) (*Locator, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	return &Locator{reader: reader}, nil
}

// Country returns the ISO country code for ip, or "" when unknown.
func (l *Locator) Country(ip net.IP) string {
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := l.reader.Lookup(ip, &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// Close releases the database.
func (l *Locator) Close() error { return l.reader.Close() }
