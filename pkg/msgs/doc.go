// Package msgs defines the messages exchanged with remote peers of a
// multiplexer: channel events going out and channel control coming in.
//
// Producer of ChannelEvent: modemmuxd bridges
// Consumer of ChannelEvent: remote clients
//
// ChannelControl flows the other way.
package msgs
