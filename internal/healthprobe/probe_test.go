package healthprobe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type fakeLister struct {
	pods *corev1.PodList
	err  error
}

func (f fakeLister) ListPods(ctx context.Context, namespace, labelSelector string) (*corev1.PodList, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pods, nil
}

func runningPod(ready bool) corev1.Pod {
	status := corev1.ConditionTrue
	if !ready {
		status = corev1.ConditionFalse
	}
	return corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "pod"},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: status}},
		},
	}
}

func TestPrimaryHealthy_EnoughRunningReplicas(t *testing.T) {
	lister := fakeLister{pods: &corev1.PodList{Items: []corev1.Pod{runningPod(true), runningPod(true)}}}
	p := NewWithLister(lister, "default", "app=primary", 2, "")

	if !p.PrimaryHealthy(context.Background()) {
		t.Error("expected healthy with 2/2 running replicas")
	}
}

func TestPrimaryHealthy_InsufficientReplicas(t *testing.T) {
	lister := fakeLister{pods: &corev1.PodList{Items: []corev1.Pod{runningPod(true)}}}
	p := NewWithLister(lister, "default", "app=primary", 2, "")

	if p.PrimaryHealthy(context.Background()) {
		t.Error("expected unhealthy with 1/2 running replicas")
	}
}

func TestPrimaryHealthy_NotReadyPodsDontCount(t *testing.T) {
	lister := fakeLister{pods: &corev1.PodList{Items: []corev1.Pod{runningPod(true), runningPod(false)}}}
	p := NewWithLister(lister, "default", "app=primary", 2, "")

	if p.PrimaryHealthy(context.Background()) {
		t.Error("expected unhealthy: only 1 of 2 pods is ready")
	}
}

func TestPrimaryHealthy_ListErrorFailsClosed(t *testing.T) {
	lister := fakeLister{err: errors.New("apiserver unreachable")}
	p := NewWithLister(lister, "default", "app=primary", 1, "")

	if p.PrimaryHealthy(context.Background()) {
		t.Error("expected unhealthy (fail-closed) on observation error")
	}
}

func TestTunnelReachable_NoURLConfigured(t *testing.T) {
	p := NewWithLister(fakeLister{}, "default", "", 1, "")
	if !p.TunnelReachable(context.Background()) {
		t.Error("expected TunnelReachable to default to true with no URL configured")
	}
}

func TestTunnelReachable_ServerUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWithLister(fakeLister{}, "default", "", 1, srv.URL)
	if !p.TunnelReachable(context.Background()) {
		t.Error("expected tunnel reachable")
	}
}

func TestTunnelReachable_ServerDown(t *testing.T) {
	p := NewWithLister(fakeLister{}, "default", "", 1, "http://127.0.0.1:1")
	if p.TunnelReachable(context.Background()) {
		t.Error("expected tunnel unreachable")
	}
}
