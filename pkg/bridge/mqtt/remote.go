package mqtt

import (
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/modemmux/pkg/msgs"
)

// RemoteChannel is the client side of a bridged channel.
type RemoteChannel struct {
	Queue    *Queue
	DeviceID string
	Name     string
	// OnEvent, if set, receives the events of the channel.
	OnEvent func(*msgs.ChannelEvent)

	lock sync.Mutex
	rx   []byte
	subs []*Subscription
}

// NewRemoteChannel creates a RemoteChannel and subscribes its topics.
func NewRemoteChannel(q *Queue, deviceID, name string) *RemoteChannel {
	c := &RemoteChannel{Queue: q, DeviceID: deviceID, Name: name}
	c.subs = append(c.subs,
		q.Sub(ChannelTopic(deviceID, name, LeafRx), c.handleRx),
		q.Sub(ChannelTopic(deviceID, name, LeafEvents), c.handleEvent))
	return c
}

// Detach unsubscribes the topics.
func (c *RemoteChannel) Detach() error {
	for _, sub := range c.subs {
		sub.Close()
	}
	c.subs = nil
	return nil
}

// Write publishes p to the channel.
func (c *RemoteChannel) Write(p []byte) (int, error) {
	token := c.Queue.Pub(ChannelTopic(c.DeviceID, c.Name, LeafTx), p)
	token.Wait()
	if err := token.Error(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadAvailable drains the bytes received so far.
func (c *RemoteChannel) ReadAvailable(p []byte) (int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	n := copy(p, c.rx)
	c.rx = c.rx[n:]
	return n, nil
}

// Open asks the device to open the channel.
func (c *RemoteChannel) Open() error {
	return c.control(msgs.ControlOp_OPEN, false)
}

// Close asks the device to close the channel.
func (c *RemoteChannel) Close() error {
	return c.control(msgs.ControlOp_CLOSE, false)
}

// SetDTR asks the device to set DTR.
func (c *RemoteChannel) SetDTR(on bool) error {
	return c.control(msgs.ControlOp_SET_DTR, on)
}

// SetRTS asks the device to set RTS.
func (c *RemoteChannel) SetRTS(on bool) error {
	return c.control(msgs.ControlOp_SET_RTS, on)
}

// Discard drops received bytes here and on the device.
func (c *RemoteChannel) Discard() {
	c.lock.Lock()
	c.rx = nil
	c.lock.Unlock()
	if err := c.control(msgs.ControlOp_DISCARD, false); err != nil {
		glog.Warningf("%s/%s: discard: %v", c.DeviceID, c.Name, err)
	}
}

func (c *RemoteChannel) control(op msgs.ControlOp, value bool) error {
	data, err := msgs.Encode(&msgs.ChannelControl{Op: op, Value: value})
	if err != nil {
		return err
	}
	token := c.Queue.Pub(ChannelTopic(c.DeviceID, c.Name, LeafCtl), data)
	token.Wait()
	return token.Error()
}

func (c *RemoteChannel) handleRx(_ string, payload []byte) {
	c.lock.Lock()
	c.rx = append(c.rx, payload...)
	c.lock.Unlock()
}

func (c *RemoteChannel) handleEvent(_ string, payload []byte) {
	ev, err := msgs.DecodeChannelEvent(payload)
	if err != nil {
		glog.Warningf("%s/%s: invalid event: %v", c.DeviceID, c.Name, err)
		return
	}
	if h := c.OnEvent; h != nil {
		h(ev)
	}
}
