// Package healthprobe determines whether the primary ingress path is
// healthy by counting running replicas of the primary workload in the
// cluster.
package healthprobe

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"gitlab.bluewillows.net/root/dnsfailover/internal/metrics"
)

// PodLister is the subset of a Kubernetes clientset the probe needs. Satisfied
// by *kubernetes.Clientset; tests supply a fake.
type PodLister interface {
	ListPods(ctx context.Context, namespace, labelSelector string) (*corev1.PodList, error)
}

// clientsetLister adapts a real *kubernetes.Clientset to PodLister.
type clientsetLister struct {
	clientset *kubernetes.Clientset
}

func (l clientsetLister) ListPods(ctx context.Context, namespace, labelSelector string) (*corev1.PodList, error) {
	return l.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
}

// Option configures a Probe.
type Option func(*Probe)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Probe) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHTTPClient overrides the client used for the tunnel connectivity probe.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(p *Probe) {
		if httpClient != nil {
			p.httpClient = httpClient
		}
	}
}

// Probe implements spec §4.1's primary_healthy() check: at least
// MinReplicas pods matching Namespace/LabelSelector must be Running and
// Ready (a pod with no Ready condition yet counts on its phase alone).
// Any observation error is reported as unhealthy (fail-closed).
//
// It also exposes the supplemental tunnel connectivity probe from
// original_source/'s HealthChecker.check_tunnel_connectivity, which is
// informational only and never consulted by engine.Reconcile.
type Probe struct {
	lister        PodLister
	namespace     string
	labelSelector string
	minReplicas   int

	tunnelURL  string
	httpClient *http.Client

	logger *slog.Logger
}

// New constructs a Probe backed by a live Kubernetes clientset.
func New(clientset *kubernetes.Clientset, namespace, labelSelector string, minReplicas int, tunnelURL string, opts ...Option) *Probe {
	return newProbe(clientsetLister{clientset: clientset}, namespace, labelSelector, minReplicas, tunnelURL, opts...)
}

// NewWithLister constructs a Probe backed by an arbitrary PodLister, for tests.
func NewWithLister(lister PodLister, namespace, labelSelector string, minReplicas int, tunnelURL string, opts ...Option) *Probe {
	return newProbe(lister, namespace, labelSelector, minReplicas, tunnelURL, opts...)
}

func newProbe(lister PodLister, namespace, labelSelector string, minReplicas int, tunnelURL string, opts ...Option) *Probe {
	p := &Probe{
		lister:        lister,
		namespace:     namespace,
		labelSelector: labelSelector,
		minReplicas:   minReplicas,
		tunnelURL:     tunnelURL,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PrimaryHealthy reports whether at least minReplicas pods matching the
// configured namespace/label selector are in the Running phase and Ready. Any
// observation error is reported as unhealthy, per spec §4.1 and §7.
func (p *Probe) PrimaryHealthy(ctx context.Context) bool {
	pods, err := p.lister.ListPods(ctx, p.namespace, p.labelSelector)
	if err != nil {
		p.logger.Warn("listing primary workload pods failed, reporting unhealthy",
			slog.String("namespace", p.namespace),
			slog.String("selector", p.labelSelector),
			slog.Any("error", err),
		)
		return false
	}

	running := countRunning(pods)
	healthy := running >= p.minReplicas
	p.logger.Debug("primary health observation",
		slog.Int("running", running),
		slog.Int("min_replicas", p.minReplicas),
		slog.Bool("healthy", healthy),
	)
	return healthy
}

func countRunning(pods *corev1.PodList) int {
	running := 0
	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning && podReady(&pod) {
			running++
		}
	}
	return running
}

func podReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	// No Ready condition reported yet; fall back to phase alone.
	return true
}

// TunnelReachable performs the supplemental tunnel connectivity probe
// against the public hostname (original_source's check_tunnel_connectivity).
// It is informational only: callers must not use it as a Reconcile input.
func (p *Probe) TunnelReachable(ctx context.Context) bool {
	if p.tunnelURL == "" {
		metrics.TunnelReachable.Set(1)
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.tunnelURL, nil)
	if err != nil {
		p.logger.Debug("building tunnel connectivity request failed", slog.Any("error", err))
		metrics.TunnelReachable.Set(0)
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug("tunnel connectivity probe failed", slog.Any("error", err))
		metrics.TunnelReachable.Set(0)
		return false
	}
	defer resp.Body.Close()

	reachable := resp.StatusCode < 500
	if reachable {
		metrics.TunnelReachable.Set(1)
	} else {
		metrics.TunnelReachable.Set(0)
	}
	return reachable
}
