package ota

import (
	"context"
	"fmt"
	"io"

	"github.com/updrift-io/updrift/internal/slotio"
	"github.com/updrift-io/updrift/internal/verify"
	"github.com/updrift-io/updrift/pkg/log"
)

// CloneRunning copies the running slot's contents into the alternate slot
// through the ordinary session pipeline, digesting the source first so the
// copy is verified like any real update. Useful for factory provisioning and
// for exercising the full write/verify/commit path without an image server.
func (m *Manager) CloneRunning(ctx context.Context) (*Session, error) {
	running := m.catalog.Running()

	dg, err := verify.SlotDigest(m.dev, running, running.Size)
	if err != nil {
		return nil, fmt.Errorf("ota: digest running slot: %w", err)
	}

	desc := UpdateDescriptor{
		Version: "clone-of-" + running.Label,
		Source:  "slot://" + running.Label,
		Size:    running.Size,
		Digest:  dg,
	}

	sess, err := m.Start(ctx, desc)
	if err != nil {
		return nil, err
	}
	log.Info("Cloning running slot", "session", sess.ID(),
		"from", running.Label, "to", sess.Target().Label)

	r, err := slotio.NewReader(m.dev, running, running.Size)
	if err != nil {
		_ = sess.Abort(ctx)
		return sess, err
	}

	buf := make([]byte, slotio.ChunkSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := sess.Feed(ctx, buf[:n]); err != nil {
				return sess, err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = sess.Abort(ctx)
			return sess, fmt.Errorf("ota: read running slot: %w", rerr)
		}
	}

	if err := sess.Finish(ctx); err != nil {
		return sess, err
	}
	return sess, nil
}
