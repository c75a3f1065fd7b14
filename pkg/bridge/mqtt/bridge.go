package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/modemmux/pkg/msgs"
	"github.com/robotalks/modemmux/pkg/mux"
)

// Meta describes a bridged multiplexer.
type Meta struct {
	Device   string   `json:"device"`
	Protocol string   `json:"protocol"`
	Channels []string `json:"channels"`
}

// Bridge exposes the channels of a Multiplexer over MQTT.
//
// Inbound channel bytes are published on <device>/<channel>/rx and events
// on <device>/<channel>/events. Bytes published on <device>/<channel>/tx
// are written to the channel and ChannelControl messages on
// <device>/<channel>/ctl are applied to it.
//
// An OPEN control claims the channel for the bridge and CLOSE releases it.
// The bridge only forwards bytes of the channels it holds, a channel
// claimed elsewhere is left to its owner.
type Bridge struct {
	Queue    *Queue
	DeviceID string
	Mux      *mux.Multiplexer
	Meta     Meta

	subs   []*Subscription
	chSubs []*mux.Subscription
}

const (
	readBufSize = 4096
	// Owner is the claim a Bridge holds on the channels it opened.
	Owner = "mqtt"
)

// NewBridge creates a Bridge connecting to brokerURL.
func NewBridge(brokerURL, deviceID string, m *mux.Multiplexer) (*Bridge, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+MetaTopic(deviceID), nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("modemmux:" + deviceID)
	}
	b := NewBridgeWith(NewQueue(opts, topicPrefix), deviceID, m)
	b.Queue.OnConnect = func(*Queue) { b.publishMeta() }
	return b, nil
}

// NewBridgeWith creates a Bridge over an existing Queue.
func NewBridgeWith(q *Queue, deviceID string, m *mux.Multiplexer) *Bridge {
	b := &Bridge{
		Queue:    q,
		DeviceID: deviceID,
		Mux:      m,
		Meta:     Meta{Protocol: m.Variant().String()},
	}
	for _, ch := range m.Channels() {
		b.Meta.Channels = append(b.Meta.Channels, ch.Name())
	}
	return b
}

// Run implements Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	b.Attach()
	defer b.Detach()
	if err := b.Queue.Connect(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	<-ctx.Done()
	b.Queue.PubWith(MetaTopic(b.DeviceID), nil, 1, true).Wait()
	b.Queue.Close()
	return ctx.Err()
}

// Attach subscribes the topics and channel events.
func (b *Bridge) Attach() {
	for _, ch := range b.Mux.Channels() {
		ch := ch
		b.subs = append(b.subs,
			b.Queue.Sub(ChannelTopic(b.DeviceID, ch.Name(), LeafTx), func(_ string, payload []byte) {
				b.handleTx(ch, payload)
			}),
			b.Queue.Sub(ChannelTopic(b.DeviceID, ch.Name(), LeafCtl), func(_ string, payload []byte) {
				b.handleCtl(ch, payload)
			}))
		b.chSubs = append(b.chSubs, ch.Subscribe(mux.HandleEventFunc(b.handleEvent)))
	}
}

// Detach undoes Attach and closes the channels the bridge holds.
func (b *Bridge) Detach() {
	for _, sub := range b.chSubs {
		sub.Close()
	}
	for _, sub := range b.subs {
		sub.Close()
	}
	b.chSubs, b.subs = nil, nil
	for _, ch := range b.Mux.Channels() {
		if ch.Owner() == Owner {
			ch.Close()
			ch.Release(Owner)
		}
	}
}

func (b *Bridge) publishMeta() {
	meta := b.Meta
	if meta.Device == "" {
		meta.Device = b.DeviceID
	}
	data, err := json.Marshal(&meta)
	if err != nil {
		panic(err)
	}
	b.Queue.PubWith(MetaTopic(b.DeviceID), data, 1, true)
}

func (b *Bridge) handleTx(ch *mux.Channel, payload []byte) {
	if owner := ch.Owner(); owner != Owner {
		glog.Warningf("%s: drop %d bytes, channel held by %q", ch.Name(), len(payload), owner)
		return
	}
	if _, err := ch.Write(payload); err != nil {
		glog.Warningf("%s: write %d bytes: %v", ch.Name(), len(payload), err)
	}
}

func (b *Bridge) handleCtl(ch *mux.Channel, payload []byte) {
	ctl, err := msgs.DecodeChannelControl(payload)
	if err != nil {
		glog.Warningf("%s: invalid control: %v", ch.Name(), err)
		return
	}
	glog.V(1).Infof("%s: control %s", ch.Name(), ctl)
	if ctl.Op == msgs.ControlOp_OPEN {
		err = ch.Claim(Owner)
	} else if owner := ch.Owner(); owner != Owner {
		err = fmt.Errorf("%s held by %q: %w", ch.Name(), owner, mux.ErrChannelBusy)
	}
	if err == nil {
		err = ctl.Apply(ch)
	}
	if err != nil {
		glog.Warningf("%s: control %s: %v", ch.Name(), ctl, err)
		if ctl.Op == msgs.ControlOp_OPEN && !ch.IsOpen() {
			ch.Release(Owner)
		}
		return
	}
	if ctl.Op == msgs.ControlOp_CLOSE {
		ch.Release(Owner)
	}
}

func (b *Bridge) handleEvent(ev mux.Event) {
	name := ev.Channel.Name()
	if ev.Kind == mux.EventReadyRead && ev.Channel.Owner() == Owner {
		for {
			buf := make([]byte, readBufSize)
			n, err := ev.Channel.ReadAvailable(buf)
			if n > 0 {
				b.Queue.Pub(ChannelTopic(b.DeviceID, name, LeafRx), buf[:n])
			}
			if n == 0 || err != nil {
				break
			}
		}
	}
	data, err := msgs.Encode(msgs.NewChannelEvent(ev))
	if err != nil {
		glog.Errorf("%s: encode event: %v", name, err)
		return
	}
	b.Queue.Pub(ChannelTopic(b.DeviceID, name, LeafEvents), data)
}
