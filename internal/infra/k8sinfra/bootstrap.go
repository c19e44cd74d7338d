package k8sinfra

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"prevant/internal/apierr"
)

const (
	bootstrapNamespace = "prevant-bootstrap"
	stderrSnippetLen   = 2048
	pollInterval       = 500 * time.Millisecond
)

// RunToCompletion implements internal/bootstrap.ContainerRunner: creates a
// Restart=Never pod in a dedicated namespace, polls until it completes,
// captures its logs, then deletes it.
func (b *Backend) RunToCompletion(ctx context.Context, img string, args []string) (string, int, string, error) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: bootstrapNamespace}}
	if err := b.client.Create(ctx, ns); err != nil && !apierrors.IsAlreadyExists(err) {
		return "", 0, "", wrapK8sErr(err)
	}

	podName := fmt.Sprintf("bootstrap-%d", time.Now().UnixNano())
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: podName, Namespace: bootstrapNamespace},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{Name: "bootstrap", Image: img, Args: args},
			},
		},
	}
	if err := b.client.Create(ctx, pod); err != nil {
		return "", 0, "", wrapK8sErr(err)
	}
	defer func() { _ = b.client.Delete(ctx, pod) }()

	exitCode, err := b.waitForCompletion(ctx, podName)
	if err != nil {
		return "", 0, "", err
	}

	stdout, stderr, err := b.captureLogs(ctx, podName)
	if err != nil {
		return "", exitCode, "", err
	}
	if len(stderr) > stderrSnippetLen {
		stderr = stderr[:stderrSnippetLen]
	}
	return stdout, exitCode, stderr, nil
}

func (b *Backend) waitForCompletion(ctx context.Context, podName string) (int, error) {
	for {
		var pod corev1.Pod
		if err := b.client.Get(ctx, client.ObjectKey{Name: podName, Namespace: bootstrapNamespace}, &pod); err != nil {
			return 0, wrapK8sErr(err)
		}
		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			return 0, nil
		case corev1.PodFailed:
			return exitCodeFromStatus(pod), nil
		}
		select {
		case <-ctx.Done():
			return 0, apierr.Wrap(apierr.KindBootstrapError, "bootstrap pod did not complete before context cancellation", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func exitCodeFromStatus(pod corev1.Pod) int {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil {
			return int(cs.State.Terminated.ExitCode)
		}
	}
	return 1
}

func (b *Backend) captureLogs(ctx context.Context, podName string) (string, string, error) {
	req := b.clientset.CoreV1().Pods(bootstrapNamespace).GetLogs(podName, &corev1.PodLogOptions{})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", "", wrapK8sErr(err)
	}
	defer stream.Close()

	var stdout, stderr strings.Builder
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		stdout.WriteString(scanner.Text())
		stdout.WriteByte('\n')
	}
	return stdout.String(), stderr.String(), nil
}
