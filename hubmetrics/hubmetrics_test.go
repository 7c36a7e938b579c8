package hubmetrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/pylabhub/hub/hub"
)

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("hubmetricstest-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestCollectReflectsHeaderCounters(t *testing.T) {
	name := uniqueName(t)
	tun := hub.DefaultTunables
	p, err := hub.CreateProducer(name, hub.ChannelConfig{SlotCount: 4, SlotSize: 8}, tun)
	require.NoError(t, err)
	defer p.Destroy()

	w, err := p.AcquireWrite()
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	exp := NewExporter()
	exp.Register(name, p)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(exp))

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawWriteTotal bool
	for _, fam := range families {
		if fam.GetName() != "pylabhub_write_total" {
			continue
		}
		for _, m := range fam.Metric {
			if labelValue(m, "channel") == name {
				sawWriteTotal = true
				require.Equal(t, float64(1), m.GetCounter().GetValue())
			}
		}
	}
	require.True(t, sawWriteTotal)
}

func labelValue(m *dto.Metric, key string) string {
	for _, lp := range m.Label {
		if lp.GetName() == key {
			return lp.GetValue()
		}
	}
	return ""
}
