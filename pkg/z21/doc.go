// Package z21 implements the Z21 LAN packet codec for CV programming.
//
// The Z21 command station speaks a binary datagram protocol over UDP.
// Programming commands are X-Bus frames wrapped in a LAN envelope:
//
//	┌────────────────────────────────┐
//	│   X-Bus frame (XOR-checked)    │
//	├────────────────────────────────┤
//	│  LAN header (2B LE len, 2B id) │
//	├────────────────────────────────┤
//	│            UDP                 │
//	└────────────────────────────────┘
//
// This package covers the Programming-on-the-Main (POM) byte read and
// write commands (LAN_X_CV_POM_READ_BYTE / LAN_X_CV_POM_WRITE_BYTE),
// the CV result and NACK replies, and the session housekeeping packets
// (serial number request, logoff) used to keep the UDP session alive.
//
// The X-Bus checksum is the byte-wise XOR of the X-Header through the
// last data byte. The station rejects frames with a bad checksum;
// inbound verification is optional (see Codec.StrictChecksum).
package z21
