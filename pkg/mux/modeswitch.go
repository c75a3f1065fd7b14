package mux

import (
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

// Mode is the operating mode of a modem with a single serial port.
type Mode int32

// Modes.
const (
	ModeCommandActive Mode = iota
	ModeDataActive
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeDataActive {
		return "DataActive"
	}
	return "CommandActive"
}

// ModeSwitchCoordinator moves the modem between voice/command mode and
// data mode as the data channel opens and closes. It only acts for
// protocols with a voice mode.
type ModeSwitchCoordinator struct {
	mux        *Multiplexer
	voiceMode  string
	dataMode   string
	enabled    bool
	state      int32
	switchLock sync.Mutex
}

func newModeSwitchCoordinator(m *Multiplexer) *ModeSwitchCoordinator {
	c := &ModeSwitchCoordinator{mux: m}
	c.voiceMode, c.dataMode, c.enabled = m.proto.voiceCommands()
	return c
}

// State returns the current mode.
func (c *ModeSwitchCoordinator) State() Mode {
	return Mode(atomic.LoadInt32(&c.state))
}

// rawData tells whether the link carries unframed data channel bytes.
func (c *ModeSwitchCoordinator) rawData() bool {
	return c.enabled && c.State() == ModeDataActive
}

// DataOpened switches to data mode. The command channel stops accepting
// input until DataClosed.
func (c *ModeSwitchCoordinator) DataOpened() error {
	if !c.enabled {
		return nil
	}
	c.switchLock.Lock()
	defer c.switchLock.Unlock()
	if c.State() == ModeDataActive {
		return nil
	}
	command := c.mux.command
	command.setEnabled(false)
	err := c.mux.chatThen(c.dataMode, func() {
		atomic.StoreInt32(&c.state, int32(ModeDataActive))
	})
	if err != nil {
		atomic.StoreInt32(&c.state, int32(ModeCommandActive))
		command.setEnabled(true)
		return err
	}
	glog.V(1).Info("mode: DataActive")
	return nil
}

// DataClosed switches back to voice/command mode.
func (c *ModeSwitchCoordinator) DataClosed() error {
	if !c.enabled {
		return nil
	}
	c.switchLock.Lock()
	defer c.switchLock.Unlock()
	if c.State() != ModeDataActive {
		return nil
	}
	atomic.StoreInt32(&c.state, int32(ModeCommandActive))
	c.mux.command.setEnabled(true)
	glog.V(1).Info("mode: CommandActive")
	return c.mux.chat(c.voiceMode)
}
