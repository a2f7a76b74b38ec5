package metrics

import (
	"fmt"
	"os"

	"github.com/oschwald/geoip2-golang"
)

// OpenGeoIP opens a MaxMind country database. An empty path disables
// enrichment and returns nil.
func OpenGeoIP(path string) (*geoip2.Reader, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("geoip database: %w", err)
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return reader, nil
}
