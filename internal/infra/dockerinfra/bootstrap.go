package dockerinfra

import (
	"bytes"
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"
)

const stderrSnippetLen = 2048

// RunToCompletion implements internal/bootstrap.ContainerRunner: create,
// start, wait, capture stdout/stderr, then remove — a throwaway
// create-wait-capture-remove cycle.
func (b *Backend) RunToCompletion(ctx context.Context, img string, args []string) (string, int, string, error) {
	rc, err := b.cli.ImagePull(ctx, mirrorImage(img, b.mirrors), image.PullOptions{})
	if err != nil {
		return "", 0, "", wrapDockerErr(err)
	}
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()

	created, err := b.cli.ContainerCreate(ctx, &container.Config{
		Image: img,
		Cmd:   args,
	}, nil, nil, nil, "")
	if err != nil {
		return "", 0, "", wrapDockerErr(err)
	}
	defer func() { _ = b.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true}) }()

	if err := b.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", 0, "", wrapDockerErr(err)
	}

	statusCh, errCh := b.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return "", 0, "", wrapDockerErr(err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logsReader, err := b.cli.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", int(exitCode), "", wrapDockerErr(err)
	}
	defer logsReader.Close()

	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, logsReader)

	snippet := stderr.String()
	if len(snippet) > stderrSnippetLen {
		snippet = snippet[:stderrSnippetLen]
	}

	return stdout.String(), int(exitCode), snippet, nil
}
