package k8spod

import (
	"context"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/giantswarm/latentworker/internal/core"
)

func TestStartInstanceCreatesPod(t *testing.T) {
	client := fake.NewSimpleClientset()
	d, err := New(Config{Client: client, Namespace: "builds", Image: "worker:latest", MasterAddress: "master:9989"}, "worker-1", "pw")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ok, err := d.StartInstance(context.Background(), core.Build{ID: "b1", BuilderName: "linux-amd64"})
	if err != nil || !ok {
		t.Fatalf("StartInstance: ok=%v err=%v", ok, err)
	}

	pod, err := client.CoreV1().Pods("builds").Get(context.Background(), "latentworker-worker-1", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("expected pod to exist: %v", err)
	}
	if pod.Labels["latentworker/worker"] != "worker-1" {
		t.Fatalf("unexpected worker label: %v", pod.Labels)
	}
}

func TestStopInstanceDeletesPod(t *testing.T) {
	client := fake.NewSimpleClientset()
	d, err := New(Config{Client: client, Namespace: "builds", Image: "worker:latest"}, "worker-1", "pw")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := d.StartInstance(context.Background(), core.Build{ID: "b1"}); err != nil {
		t.Fatalf("StartInstance: %v", err)
	}

	if err := d.StopInstance(context.Background(), true); err != nil {
		t.Fatalf("StopInstance: %v", err)
	}

	_, err = client.CoreV1().Pods("builds").Get(context.Background(), "latentworker-worker-1", metav1.GetOptions{})
	if err == nil {
		t.Fatal("expected pod to be deleted")
	}
}

func TestStopInstanceOnMissingPodIsNoop(t *testing.T) {
	client := fake.NewSimpleClientset()
	d, err := New(Config{Client: client, Namespace: "builds", Image: "worker:latest"}, "worker-3", "pw")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.StopInstance(context.Background(), false); err != nil {
		t.Fatalf("StopInstance on never-started driver: %v", err)
	}
}
