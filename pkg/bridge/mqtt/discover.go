package mqtt

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// DeviceInfo is a discovered device.
type DeviceInfo struct {
	ID   string `json:"id"`
	Meta Meta   `json:"meta"`
}

// Discover collects the retained meta of online devices for the timeout.
func Discover(ctx context.Context, q *Queue, timeout time.Duration) ([]DeviceInfo, error) {
	var (
		lock    sync.Mutex
		devices = make(map[string]DeviceInfo)
	)
	sub := q.Sub("+/meta", func(topic string, payload []byte) {
		id := strings.TrimSuffix(topic, "/meta")
		lock.Lock()
		defer lock.Unlock()
		if len(payload) == 0 {
			// offline
			delete(devices, id)
			return
		}
		info := DeviceInfo{ID: id}
		if err := json.Unmarshal(payload, &info.Meta); err != nil {
			glog.Warningf("%s: invalid meta: %v", id, err)
			return
		}
		devices[id] = info
	})
	defer sub.Close()

	if timeout == 0 {
		timeout = DefaultDiscoverTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	lock.Lock()
	defer lock.Unlock()
	res := make([]DeviceInfo, 0, len(devices))
	for _, info := range devices {
		res = append(res, info)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}
