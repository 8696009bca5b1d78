package discovery

import (
	"strconv"
	"strings"
)

// mDNS service types command stations announce under.
const (
	// ServiceTypeDCCEX is advertised by EX-CommandStation's WiFi
	// firmware.
	ServiceTypeDCCEX = "_dccex._tcp"

	// ServiceTypeWiThrottle is advertised by WiThrottle servers,
	// including JMRI in front of a station.
	ServiceTypeWiThrottle = "_withrottle._tcp"

	// Domain is the mDNS domain.
	Domain = "local"
)

// Station is one discovered command station.
type Station struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// ServiceType records which service type the station was found
	// under.
	ServiceType string

	// Hostname is the advertised host name.
	Hostname string

	// Addresses are the station's IP addresses as strings, all
	// interfaces merged.
	Addresses []string

	// Port is the advertised TCP port.
	Port int

	// TXT holds the advertised key=value TXT records.
	TXT map[string]string
}

// Addr returns a dial string for the station's first address, or ""
// when no address was resolved.
func (s *Station) Addr() string {
	if len(s.Addresses) == 0 {
		return ""
	}
	host := s.Addresses[0]
	if strings.Contains(host, ":") {
		// IPv6 literal.
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(s.Port)
}

// parseTXT splits raw TXT strings into a key=value map. Flags without
// a value map to "".
func parseTXT(records []string) map[string]string {
	if len(records) == 0 {
		return nil
	}
	txt := make(map[string]string, len(records))
	for _, record := range records {
		key, value, _ := strings.Cut(record, "=")
		if key == "" {
			continue
		}
		txt[key] = value
	}
	return txt
}
