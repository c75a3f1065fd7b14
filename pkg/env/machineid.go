package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// MachineID retrieves the unique ID identifying the machine, hashed with
// the application name so it can be published. Falls back to the host
// name when the machine has no ID.
func MachineID() string {
	id, err := machineid.ProtectedID("modemmux")
	if err == nil {
		return id[:16]
	}
	glog.Warningf("machine id: %v", err)
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "modemmux"
}
