// Package transport provides the network transports the protocol
// backends run on.
//
// Three transports share one connection surface:
//
//   - UDPConn — connected UDP socket for Z21 command stations
//   - TCPConn — byte stream for DCC-EX stations on WiFi/Ethernet
//   - SerialConn — byte stream for DCC-EX stations on USB serial
//
// A transport owns its socket and a receive goroutine. Inbound bytes
// are delivered to the Handler exactly as they arrive — one callback
// per datagram for UDP, arbitrary chunks for the stream transports;
// reassembly into protocol messages is the backend's job. All state
// transitions are reported through the Handler as well.
//
// Neither protocol has a connection handshake: a transport is usable
// for sending as soon as Connect returns.
package transport
