// Package mux multiplexes one modem serial link into logical channels.
//
// A modem exposing a single UART carries both AT commands and raw data on
// the same byte stream. The Multiplexer owns the link, decodes the in-band
// framing of the selected protocol Variant and routes the result to a
// command Channel and a data Channel.
//
// Two variants are supported:
//
//   - VariantDLE: ITU V.253 style DLE shielding. Control notifications are
//     reported on the command channel as "+DLE: " lines and switching
//     between voice/command and data operation is done with AT commands.
//   - VariantWavecom: length and checksum framed blocks with a lead byte
//     per category, carrying command data, raw data and emulated RS-232
//     status lines.
//
// The link is read by exactly one decode pass at a time. Readiness
// notifications arriving while a pass runs are folded into that pass.
package mux
