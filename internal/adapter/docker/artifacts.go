package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"deployd/internal/lifecycle"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
)

// Resolve returns the local image for ref, pulling it when missing.
// Only the exact reference is accepted; there is no fallback tag.
func (g *Gateway) Resolve(ctx context.Context, ref lifecycle.ArtifactRef) (lifecycle.ImageHandle, error) {
	name := ref.String()
	if handle, ok, err := g.localImage(ctx, ref); err != nil || ok {
		return handle, err
	}

	g.log.Info("Pulling image.", "image", name)
	if err := g.pull(ctx, name); err != nil {
		return lifecycle.ImageHandle{}, err
	}

	handle, ok, err := g.localImage(ctx, ref)
	if err != nil {
		return lifecycle.ImageHandle{}, err
	}
	if !ok {
		return lifecycle.ImageHandle{}, fmt.Errorf("%w: %s missing after pull", lifecycle.ErrTransfer, name)
	}
	return handle, nil
}

func (g *Gateway) localImage(ctx context.Context, ref lifecycle.ArtifactRef) (lifecycle.ImageHandle, bool, error) {
	info, err := g.cli.ImageInspect(ctx, ref.String())
	switch {
	case errdefs.IsNotFound(err):
		return lifecycle.ImageHandle{}, false, nil
	case err != nil:
		return lifecycle.ImageHandle{}, false, fmt.Errorf("inspect image %s: %w", ref, err)
	}
	return lifecycle.ImageHandle{Ref: ref, ID: info.ID, Size: info.Size}, true, nil
}

func (g *Gateway) pull(ctx context.Context, name string) error {
	stream, err := g.cli.ImagePull(ctx, name, image.PullOptions{})
	if err != nil {
		return classifyPullError(name, err)
	}
	defer stream.Close()
	if err := drainPull(stream); err != nil {
		return classifyPullError(name, err)
	}
	return nil
}

// drainPull consumes a pull progress stream and returns the first error
// the engine reported in it.
func drainPull(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read pull progress: %w", err)
		}
		if msg.Error != nil {
			return msg.Error
		}
	}
}

func classifyPullError(name string, err error) error {
	if errdefs.IsNotFound(err) || isManifestUnknown(err) {
		return fmt.Errorf("%w: %s: %v", lifecycle.ErrArtifactNotFound, name, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("pull %s: %w", name, err)
	}
	return fmt.Errorf("%w: pull %s: %v", lifecycle.ErrTransfer, name, err)
}

func isManifestUnknown(err error) bool {
	var jerr *jsonmessage.JSONError
	if !errors.As(err, &jerr) {
		return false
	}
	msg := strings.ToLower(jerr.Message)
	for _, marker := range []string{"manifest unknown", "not found", "repository does not exist"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
