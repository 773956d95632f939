// Package k8spod implements core.Driver by provisioning the worker as a
// Kubernetes Pod via client-go, redirecting the teacher's client-go/api/
// apimachinery stack from spinning up a disposable test control plane to
// provisioning one build worker.
package k8spod

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/giantswarm/latentworker/internal/core"
)

// Config configures a Driver.
type Config struct {
	Client    kubernetes.Interface
	Namespace string
	// Image is the container image running the worker-side protocol binary.
	Image string
	// MasterAddress is passed to the pod as MASTER_ADDRESS so it knows where
	// to connect back.
	MasterAddress string
}

// Driver implements core.Driver by creating and deleting one Pod per
// substantiation.
type Driver struct {
	cfg      Config
	name     string
	password string
}

// New returns a Driver for one worker.
func New(cfg Config, name, password string) (*Driver, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("kubernetes client must not be nil")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace must not be empty")
	}
	if cfg.Image == "" {
		return nil, fmt.Errorf("image must not be empty")
	}
	return &Driver{cfg: cfg, name: name, password: password}, nil
}

func (d *Driver) podName() string {
	return "latentworker-" + d.name
}

// StartInstance creates the worker Pod. It returns (true, nil) once the
// create call succeeds; the controller learns the worker is actually ready
// via the Transport's Attached callback, not from pod readiness.
func (d *Driver) StartInstance(ctx context.Context, build core.Build) (bool, error) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      d.podName(),
			Namespace: d.cfg.Namespace,
			Labels: map[string]string{
				"latentworker/worker":  d.name,
				"latentworker/builder": build.BuilderName,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:  "worker",
					Image: d.cfg.Image,
					Env: []corev1.EnvVar{
						{Name: "WORKER_NAME", Value: d.name},
						{Name: "WORKER_PASSWORD", Value: d.password},
						{Name: "MASTER_ADDRESS", Value: d.cfg.MasterAddress},
						{Name: "BUILD_ID", Value: build.ID},
					},
				},
			},
		},
	}

	_, err := d.cfg.Client.CoreV1().Pods(d.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("create worker pod: %w", err)
	}
	return true, nil
}

// StopInstance deletes the worker Pod. When fast is true, the deletion uses
// a zero grace period (equivalent to a forceful kill); otherwise it defers
// to the pod's configured terminationGracePeriodSeconds.
func (d *Driver) StopInstance(ctx context.Context, fast bool) error {
	opts := metav1.DeleteOptions{}
	if fast {
		zero := int64(0)
		opts.GracePeriodSeconds = &zero
	}
	err := d.cfg.Client.CoreV1().Pods(d.cfg.Namespace).Delete(ctx, d.podName(), opts)
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}
