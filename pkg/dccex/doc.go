// Package dccex implements framing and message handling for the DCC-EX
// native text protocol.
//
// A DCC-EX command station exchanges whitespace-separated text commands
// delimited by angle brackets, e.g. <R 29> to read CV 29 on the
// programming track and <v 29 34> as the reply. The stream carries no
// length information; messages arrive in arbitrary chunks, possibly
// interleaved with diagnostic noise outside any <...> frame.
//
// The Framer turns that byte stream back into whole messages. Parsing
// of the read/write response heads, including the id|sub|cv correlation
// token DCC-EX echoes back when a request carried callback numbers,
// lives in message.go.
package dccex
