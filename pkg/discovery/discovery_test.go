package discovery

import (
	"net"
	"testing"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryToStation(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: "EX-CommandStation",
			Service:  ServiceTypeDCCEX,
			Domain:   Domain,
		},
		HostName: "dccex.local.",
		Port:     2560,
		Text:     []string{"version=5.0.7", "wifi"},
		AddrIPv4: []net.IP{net.ParseIP("192.168.0.50")},
	}

	station := entryToStation(entry)
	require.NotNil(t, station)
	assert.Equal(t, "EX-CommandStation", station.InstanceName)
	assert.Equal(t, ServiceTypeDCCEX, station.ServiceType)
	assert.Equal(t, 2560, station.Port)
	assert.Equal(t, "5.0.7", station.TXT["version"])
	assert.Contains(t, station.TXT, "wifi", "flag records keep an empty value")
	assert.Equal(t, "192.168.0.50:2560", station.Addr())
}

func TestEntryToStationRejectsEmpty(t *testing.T) {
	assert.Nil(t, entryToStation(nil))
	assert.Nil(t, entryToStation(&zeroconf.ServiceEntry{}))
}

func TestStationAddr(t *testing.T) {
	s := &Station{Port: 2560}
	assert.Empty(t, s.Addr(), "no addresses means no dial string")

	s.Addresses = []string{"fe80::1"}
	assert.Equal(t, "[fe80::1]:2560", s.Addr(), "IPv6 addresses are bracketed")
}

func TestMergeAddresses(t *testing.T) {
	got := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "10.0.0.2"})
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, got)
}

func TestRemoveAddresses(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		AddrIPv4: []net.IP{net.ParseIP("10.0.0.1")},
	}
	got := removeAddresses([]string{"10.0.0.1", "10.0.0.2"}, entry)
	assert.Equal(t, []string{"10.0.0.2"}, got)
}

func TestNewBrowserDefaults(t *testing.T) {
	b := NewBrowser(BrowserConfig{})
	require.Len(t, b.config.ServiceTypes, 2)
	assert.Contains(t, b.config.ServiceTypes, ServiceTypeDCCEX)
	assert.Contains(t, b.config.ServiceTypes, ServiceTypeWiThrottle)
}
