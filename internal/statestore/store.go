// Package statestore durably persists engine.OperationalState to a
// Kubernetes ConfigMap, mirroring the ConfigMap-backed persistence of
// original_source's StateManager (spec §4.4).
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"gitlab.bluewillows.net/root/dnsfailover/internal/engine"
)

// knownKeys are the six fields spec §6 names explicitly; anything else
// found in the persisted document is preserved verbatim across Load/Save.
var knownKeys = map[string]bool{
	"current_target":      true,
	"phase":               true,
	"last_change_time":    true,
	"failover_count_24h":  true,
	"stabilization_start": true,
	"last_alert_time":     true,
}

// DataKey is the ConfigMap data key holding the serialized state document.
const DataKey = "state.json"

// ConfigMapClient is the subset of a Kubernetes clientset the store needs.
// Satisfied by *kubernetes.Clientset; tests supply a fake.
type ConfigMapClient interface {
	Get(ctx context.Context, namespace, name string) (*corev1.ConfigMap, error)
	Create(ctx context.Context, namespace string, cm *corev1.ConfigMap) error
	Update(ctx context.Context, namespace string, cm *corev1.ConfigMap) error
}

type clientsetAdapter struct {
	clientset *kubernetes.Clientset
}

func (a clientsetAdapter) Get(ctx context.Context, namespace, name string) (*corev1.ConfigMap, error) {
	return a.clientset.CoreV1().ConfigMaps(namespace).Get(ctx, name, metav1.GetOptions{})
}

func (a clientsetAdapter) Create(ctx context.Context, namespace string, cm *corev1.ConfigMap) error {
	_, err := a.clientset.CoreV1().ConfigMaps(namespace).Create(ctx, cm, metav1.CreateOptions{})
	return err
}

func (a clientsetAdapter) Update(ctx context.Context, namespace string, cm *corev1.ConfigMap) error {
	_, err := a.clientset.CoreV1().ConfigMaps(namespace).Update(ctx, cm, metav1.UpdateOptions{})
	return err
}

// document is the JSON wire shape from spec §6. Unknown keys are preserved
// on round-trip by merging into a raw map alongside the known fields.
type document struct {
	CurrentTarget      string  `json:"current_target"`
	Phase              string  `json:"phase"`
	LastChangeTime     string  `json:"last_change_time"`
	FailoverCount24h   int     `json:"failover_count_24h"`
	StabilizationStart *string `json:"stabilization_start"`
	LastAlertTime      *string `json:"last_alert_time"`
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store implements spec §4.4's Load/Save contract against a single
// ConfigMap keyed by name/namespace.
type Store struct {
	client    ConfigMapClient
	namespace string
	name      string
	logger    *slog.Logger

	mu     sync.Mutex
	extras map[string]json.RawMessage // unknown keys from the last Load, preserved on Save
}

// New constructs a Store backed by a live Kubernetes clientset.
func New(clientset *kubernetes.Clientset, namespace, name string, opts ...Option) *Store {
	return newStore(clientsetAdapter{clientset: clientset}, namespace, name, opts...)
}

// NewWithClient constructs a Store backed by an arbitrary ConfigMapClient,
// for tests.
func NewWithClient(client ConfigMapClient, namespace, name string, opts ...Option) *Store {
	return newStore(client, namespace, name, opts...)
}

func newStore(client ConfigMapClient, namespace, name string, opts ...Option) *Store {
	s := &Store{client: client, namespace: namespace, name: name, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches and parses the persisted state. A missing ConfigMap, a
// missing data key, or unparseable JSON yields the default initial state
// with a warning, per spec §4.4.
func (s *Store) Load(ctx context.Context) (engine.OperationalState, error) {
	cm, err := s.client.Get(ctx, s.namespace, s.name)
	if err != nil {
		if apierrors.IsNotFound(err) {
			s.logger.Warn("state configmap not found, using default initial state",
				slog.String("configmap", s.namespace+"/"+s.name))
			return engine.DefaultState(nowUTC()), nil
		}
		return engine.OperationalState{}, err
	}

	raw, ok := cm.Data[DataKey]
	if !ok || raw == "" {
		s.logger.Warn("state configmap missing data key, using default initial state",
			slog.String("configmap", s.namespace+"/"+s.name), slog.String("key", DataKey))
		return engine.DefaultState(nowUTC()), nil
	}

	state, extras, err := decode(raw)
	if err != nil {
		s.logger.Warn("state configmap data is unparseable, using default initial state",
			slog.Any("error", err))
		return engine.DefaultState(nowUTC()), nil
	}

	s.mu.Lock()
	s.extras = extras
	s.mu.Unlock()
	return state, nil
}

// Save durably persists state, creating the backing ConfigMap if it does not
// exist yet. Per spec §4.4/§7, callers are expected to log and continue on
// error rather than abort the in-memory mutation.
func (s *Store) Save(ctx context.Context, state engine.OperationalState) error {
	s.mu.Lock()
	extras := s.extras
	s.mu.Unlock()

	raw, err := encode(state, extras)
	if err != nil {
		return err
	}

	cm, err := s.client.Get(ctx, s.namespace, s.name)
	if err != nil {
		if !apierrors.IsNotFound(err) {
			return err
		}
		cm = &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: s.name, Namespace: s.namespace},
			Data:       map[string]string{DataKey: raw},
		}
		return s.client.Create(ctx, s.namespace, cm)
	}

	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	cm.Data[DataKey] = raw
	return s.client.Update(ctx, s.namespace, cm)
}

var errUnknownTarget = errors.New("statestore: unknown current_target value")
var errUnknownPhase = errors.New("statestore: unknown phase value")

// decode parses raw into an OperationalState plus any keys not named in
// spec §6, which are returned separately so Save can round-trip them.
func decode(raw string) (engine.OperationalState, map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return engine.OperationalState{}, nil, err
	}

	var doc document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return engine.OperationalState{}, nil, err
	}

	target, err := decodeTarget(doc.CurrentTarget)
	if err != nil {
		return engine.OperationalState{}, nil, err
	}
	phase, err := decodePhase(doc.Phase)
	if err != nil {
		return engine.OperationalState{}, nil, err
	}
	lastChange, err := parseTime(doc.LastChangeTime)
	if err != nil {
		return engine.OperationalState{}, nil, err
	}

	state := engine.OperationalState{
		CurrentTarget:    target,
		Phase:            phase,
		LastChangeTime:   lastChange,
		FailoverCount24h: doc.FailoverCount24h,
	}
	if doc.StabilizationStart != nil {
		t, err := parseTime(*doc.StabilizationStart)
		if err != nil {
			return engine.OperationalState{}, nil, err
		}
		state.StabilizationStart = &t
	}
	if doc.LastAlertTime != nil {
		t, err := parseTime(*doc.LastAlertTime)
		if err != nil {
			return engine.OperationalState{}, nil, err
		}
		state.LastAlertTime = &t
	}

	extras := make(map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		if !knownKeys[key] {
			extras[key] = value
		}
	}
	return state, extras, nil
}

func encode(state engine.OperationalState, extras map[string]json.RawMessage) (string, error) {
	doc := document{
		CurrentTarget:    encodeTarget(state.CurrentTarget),
		Phase:            string(state.Phase),
		LastChangeTime:   formatTime(state.LastChangeTime),
		FailoverCount24h: state.FailoverCount24h,
	}
	if state.StabilizationStart != nil {
		s := formatTime(*state.StabilizationStart)
		doc.StabilizationStart = &s
	}
	if state.LastAlertTime != nil {
		s := formatTime(*state.LastAlertTime)
		doc.LastAlertTime = &s
	}

	docBytes, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	if len(extras) == 0 {
		return string(docBytes), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(docBytes, &fields); err != nil {
		return "", err
	}
	for key, value := range extras {
		fields[key] = value
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(merged), nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// decodeTarget / encodeTarget translate between the wire vocabulary of spec
// §6 ("tunnel"/"vps") and the internal engine.DNSTarget enumeration.
func decodeTarget(wire string) (engine.DNSTarget, error) {
	switch wire {
	case "tunnel":
		return engine.TargetPrimary, nil
	case "vps":
		return engine.TargetFailover, nil
	default:
		return engine.TargetUnknown, errUnknownTarget
	}
}

func encodeTarget(target engine.DNSTarget) string {
	switch target {
	case engine.TargetFailover:
		return "vps"
	default:
		return "tunnel"
	}
}

func decodePhase(wire string) (engine.SystemPhase, error) {
	switch engine.SystemPhase(wire) {
	case engine.PhasePrimaryHealthy, engine.PhasePrimaryDegraded, engine.PhaseOnFailover, engine.PhaseRecovering, engine.PhaseDualFailure:
		return engine.SystemPhase(wire), nil
	default:
		return "", errUnknownPhase
	}
}
