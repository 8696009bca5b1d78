// Package discovery finds command stations on the local network.
//
// DCC-EX stations with the WiFi shield advertise themselves over mDNS
// (as do the various WiThrottle bridges in front of them), so those
// are browsed with zeroconf. Z21 stations do not advertise at all;
// their well-known address is configuration, not discovery.
package discovery
