package discovery

import (
	"context"
	"net"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures station browsing.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface by name.
	// Empty browses all interfaces.
	Interface string

	// ServiceTypes overrides the service types browsed. Empty browses
	// the DCC-EX and WiThrottle types.
	ServiceTypes []string
}

// Browser finds command stations via mDNS.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	if len(config.ServiceTypes) == 0 {
		config.ServiceTypes = []string{ServiceTypeDCCEX, ServiceTypeWiThrottle}
	}
	return &Browser{config: config}
}

// Browse streams discovered stations until ctx is canceled. Entries
// for the same instance arriving from multiple interfaces are
// aggregated into one station; a station is only emitted once.
func (b *Browser) Browse(ctx context.Context) (<-chan *Station, error) {
	out := make(chan *Station)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	opts := b.clientOptions()

	go func() {
		defer close(out)

		stations := make(map[string]*Station)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				station := entryToStation(entry)
				if station == nil {
					continue
				}

				if existing, found := stations[station.InstanceName]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, station.Addresses)
					continue
				}

				stations[station.InstanceName] = station
				select {
				case out <- station:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				if existing, found := stations[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entry)
					if len(existing.Addresses) == 0 {
						delete(stations, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	for _, serviceType := range b.config.ServiceTypes {
		go func() {
			_ = zeroconf.Browse(ctx, serviceType, Domain, entries, removed, opts...)
		}()
	}

	return out, nil
}

// FindAll browses for the given duration and returns everything that
// answered.
func (b *Browser) FindAll(ctx context.Context, timeout time.Duration) ([]*Station, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	var stations []*Station
	for station := range ch {
		stations = append(stations, station)
	}
	return stations, nil
}

func (b *Browser) clientOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		if iface, err := net.InterfaceByName(b.config.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// entryToStation converts a zeroconf entry, or returns nil for
// entries without usable addressing.
func entryToStation(entry *zeroconf.ServiceEntry) *Station {
	if entry == nil || entry.Instance == "" {
		return nil
	}

	station := &Station{
		InstanceName: entry.Instance,
		ServiceType:  entry.Service,
		Hostname:     entry.HostName,
		Port:         entry.Port,
		TXT:          parseTXT(entry.Text),
	}
	for _, ip := range entry.AddrIPv4 {
		station.Addresses = append(station.Addresses, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		station.Addresses = append(station.Addresses, ip.String())
	}
	return station
}

func mergeAddresses(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range incoming {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	toRemove := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		toRemove[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		toRemove[ip.String()] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
