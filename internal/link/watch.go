package link

import "go.uber.org/zap"

// pollPorts diffs the current port list against prev and raises hot-plug
// events. A nil prev only takes the initial snapshot.
func (l *Link) pollPorts(prev map[string]Device) map[string]Device {
	ports, err := l.lister.Ports()
	if err != nil {
		l.log.Debug("poll ports", zap.Error(err))
		return prev
	}

	cur := make(map[string]Device, len(ports))
	for _, p := range ports {
		cur[p.Port] = p
	}
	if prev == nil {
		return cur
	}

	for name := range prev {
		if _, ok := cur[name]; !ok {
			l.HandleDeviceRemoved(name)
		}
	}
	for name, dev := range cur {
		if _, ok := prev[name]; !ok {
			go l.HandleDeviceAttached(dev)
		}
	}
	return cur
}
