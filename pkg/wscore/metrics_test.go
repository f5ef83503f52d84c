package wscore

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetricsConnectionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.connAccepted()
	m.connAccepted()
	m.connClosed()

	if got := counterValue(t, m.connectionsTotal); got != 2 {
		t.Errorf("connectionsTotal = %v, want 2", got)
	}
}

func TestMetricsFrameCountersByOpcode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.frameReceived(OpText)
	m.frameReceived(OpText)
	m.frameReceived(OpPing)

	got := m.framesReceivedTotal.WithLabelValues("text")
	if counterValue(t, got) != 2 {
		t.Errorf("text frame count mismatch")
	}
}

func TestOpcodeLabel(t *testing.T) {
	cases := map[Opcode]string{
		OpText:         "text",
		OpBinary:       "binary",
		OpClose:        "close",
		OpPing:         "ping",
		OpPong:         "pong",
		OpContinuation: "continuation",
	}
	for op, want := range cases {
		if got := opcodeLabel(op); got != want {
			t.Errorf("opcodeLabel(%v) = %q, want %q", op, got, want)
		}
	}
}
