package influx

import (
	"github.com/HerbHall/apwatch/internal/tracker"
	"github.com/HerbHall/apwatch/pkg/models"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDevice = "apwatch_device"
	MeasurementScope  = "apwatch_scope"
)

// pointsFor converts a completed cycle into one point per device plus a
// scope summary, all stamped with the cycle time. Tags carry identity only;
// hostnames and IPs stay out of the series key.
func pointsFor(cycle tracker.CycleEvent) []*write.Point {
	points := make([]*write.Point, 0, len(cycle.Devices)+1)
	for _, d := range cycle.Devices {
		tags := map[string]string{
			"scope":       d.Identity.Scope,
			"primary_mac": d.Identity.PrimaryMAC,
		}
		if d.ConnectionType != "" {
			tags["connection_type"] = string(d.ConnectionType)
		}

		fields := map[string]any{
			"online":      d.State == models.DeviceOnline,
			"provisional": d.Provisional,
			"sources":     len(d.ContributingSources),
		}
		if d.Signal != nil {
			fields["signal"] = *d.Signal
		}
		if d.RxBytes != nil {
			fields["rx_bytes"] = *d.RxBytes
		}
		if d.TxBytes != nil {
			fields["tx_bytes"] = *d.TxBytes
		}
		points = append(points, write.NewPoint(MeasurementDevice, tags, fields, cycle.At))
	}

	points = append(points, write.NewPoint(
		MeasurementScope,
		map[string]string{"scope": cycle.Scope},
		map[string]any{
			"online":  cycle.Online,
			"offline": cycle.Offline,
			"pending": cycle.Pending,
		},
		cycle.At,
	))
	return points
}
