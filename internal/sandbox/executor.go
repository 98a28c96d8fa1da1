// Package sandbox runs agent and check commands inside a Docker
// container with resource caps, disabled networking by default, and a
// lazy image build step.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// Mount is a single bind mount from the host into the container.
type Mount struct {
	Host      string
	Container string
	ReadOnly  bool
}

// RunSpec describes one sandboxed invocation.
type RunSpec struct {
	Image       string
	Args        []string
	WorkDir     string
	Env         map[string]string
	Mounts      []Mount
	MemoryBytes int64
	NanoCPUs    int64
	Network     bool // opt-in; default is network-disabled
	Timeout     time.Duration
}

// Result is the outcome of a sandboxed run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// BuildEvent is emitted around a lazy image build so the runtime can log
// build-start / build-completed events.
type BuildEvent struct {
	Phase string // "build-start" or "build-completed"
	Image string
	Error string
}

// Executor runs containers via the Docker Engine API.
type Executor struct {
	cli        *client.Client
	onBuildEvt func(BuildEvent)
}

// New constructs an Executor from the ambient Docker environment
// (DOCKER_HOST etc). onBuildEvt may be nil.
func New(onBuildEvt func(BuildEvent)) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	if onBuildEvt == nil {
		onBuildEvt = func(BuildEvent) {}
	}
	return &Executor{cli: cli, onBuildEvt: onBuildEvt}, nil
}

// EnsureImage builds imageTag from dockerfileDir/Dockerfile if it does
// not already exist locally.
func (e *Executor) EnsureImage(ctx context.Context, imageTag, dockerfileDir string) error {
	exists, err := e.imageExists(ctx, imageTag)
	if err != nil {
		return fmt.Errorf("sandbox: check image %s: %w", imageTag, err)
	}
	if exists {
		return nil
	}

	e.onBuildEvt(BuildEvent{Phase: "build-start", Image: imageTag})

	tarCtx, err := archive.TarWithOptions(dockerfileDir, &archive.TarOptions{})
	if err != nil {
		e.onBuildEvt(BuildEvent{Phase: "build-completed", Image: imageTag, Error: err.Error()})
		return fmt.Errorf("sandbox: tar build context %s: %w", dockerfileDir, err)
	}
	defer tarCtx.Close()

	resp, err := e.cli.ImageBuild(ctx, tarCtx, build.ImageBuildOptions{
		Tags:       []string{imageTag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		e.onBuildEvt(BuildEvent{Phase: "build-completed", Image: imageTag, Error: err.Error()})
		return fmt.Errorf("sandbox: build image %s: %w", imageTag, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		e.onBuildEvt(BuildEvent{Phase: "build-completed", Image: imageTag, Error: err.Error()})
		return fmt.Errorf("sandbox: read build output for %s: %w", imageTag, err)
	}

	e.onBuildEvt(BuildEvent{Phase: "build-completed", Image: imageTag})
	return nil
}

func (e *Executor) imageExists(ctx context.Context, imageTag string) (bool, error) {
	images, err := e.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", imageTag)),
	})
	if err != nil {
		return false, err
	}
	return len(images) > 0, nil
}

// Run creates, starts, waits for, and removes a container for spec,
// returning its exit code and captured output. A timeout kills the
// container and returns ExitCode -1 with TimedOut set.
func (e *Executor) Run(ctx context.Context, spec RunSpec) (Result, error) {
	name := fmt.Sprintf("aurelia-sandbox-%s", uuid.NewString())

	envList := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}

	containerCfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Args,
		WorkingDir: spec.WorkDir,
		Env:        envList,
		Tty:        false,
	}

	dockerMounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		dockerMounts = append(dockerMounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Host,
			Target:   m.Container,
			ReadOnly: m.ReadOnly,
		})
	}

	networkMode := container.NetworkMode("none")
	if spec.Network {
		networkMode = container.NetworkMode("bridge")
	}

	hostCfg := &container.HostConfig{
		Mounts:      dockerMounts,
		NetworkMode: networkMode,
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
		AutoRemove: false,
	}

	resp, err := e.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: create container: %w", err)
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = e.cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}()

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("sandbox: start container: %w", err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	statusCh, errCh := e.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil && runCtx.Err() != nil {
			_ = e.cli.ContainerKill(context.Background(), resp.ID, "KILL")
			stdout, stderr := e.captureLogs(resp.ID)
			return Result{ExitCode: -1, Stdout: stdout, Stderr: stderr + "\nsandbox: timed out", TimedOut: true}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("sandbox: wait container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	stdout, stderr := e.captureLogs(resp.ID)
	return Result{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

func (e *Executor) captureLogs(containerID string) (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logs, err := e.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", ""
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, logs)
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String())
}

