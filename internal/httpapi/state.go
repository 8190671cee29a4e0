package httpapi

import (
	"time"

	"gitlab.bluewillows.net/root/dnsfailover/internal/engine"
)

// stateDocument is the GET /state wire shape from spec §6: the same field
// names statestore persists, serialized for external consumption.
type stateDocument struct {
	CurrentTarget      string  `json:"current_target"`
	Phase              string  `json:"phase"`
	LastChangeTime     string  `json:"last_change_time"`
	FailoverCount24h   int     `json:"failover_count_24h"`
	StabilizationStart *string `json:"stabilization_start"`
	LastAlertTime      *string `json:"last_alert_time"`
}

func serializeState(state engine.OperationalState) stateDocument {
	doc := stateDocument{
		CurrentTarget:    encodeWireTarget(state.CurrentTarget),
		Phase:            string(state.Phase),
		LastChangeTime:   formatRFC3339(state.LastChangeTime),
		FailoverCount24h: state.FailoverCount24h,
	}
	if state.StabilizationStart != nil {
		s := formatRFC3339(*state.StabilizationStart)
		doc.StabilizationStart = &s
	}
	if state.LastAlertTime != nil {
		s := formatRFC3339(*state.LastAlertTime)
		doc.LastAlertTime = &s
	}
	return doc
}

func formatRFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// encodeWireTarget mirrors statestore's tunnel/vps vocabulary so /state and
// the persisted ConfigMap agree on how a target is spelled externally.
func encodeWireTarget(target engine.DNSTarget) string {
	if target == engine.TargetFailover {
		return "vps"
	}
	return "tunnel"
}
