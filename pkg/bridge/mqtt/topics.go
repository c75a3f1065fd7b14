package mqtt

// Topic leaves of a channel.
const (
	LeafRx     = "rx"
	LeafTx     = "tx"
	LeafEvents = "events"
	LeafCtl    = "ctl"
)

// MetaTopic is the retained device description, emptied when the
// device goes offline.
func MetaTopic(deviceID string) string {
	return deviceID + "/meta"
}

// ChannelTopic builds <device>/<channel>/<leaf>.
func ChannelTopic(deviceID, channel, leaf string) string {
	return deviceID + "/" + channel + "/" + leaf
}
