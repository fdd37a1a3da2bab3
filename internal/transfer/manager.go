// Package transfer moves source assets to the remote compilation service,
// deduplicating by content fingerprint so each unique asset is uploaded at
// most once per compile operation. All state is owned by a single operation
// and discarded when it ends.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cutroom/cutroom-agent/internal/remote"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// TransferError reports the failure of one asset's upload. Partial success is
// not accepted: any TransferError fails the whole registration.
type TransferError struct {
	Fingerprint timeline.Fingerprint
	Err         error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of asset %s failed: %v", e.Fingerprint, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ProgressFunc receives the fraction (0..1) of total unique-asset bytes
// transferred so far. The orchestrator scales it into its reserved budget
// window so upload progress never overlaps other stages.
type ProgressFunc func(fraction float64)

// Handle is one unique asset pending or completed transfer.
type Handle struct {
	Fingerprint timeline.Fingerprint
	Name        string
	Path        string
	ByteSize    int64
	RemoteID    string
}

// Manager owns the fingerprint->handle mapping for one compile operation.
// It must not be shared across operations.
type Manager struct {
	client remote.Client
	logger *slog.Logger

	mu      sync.Mutex
	handles map[timeline.Fingerprint]*Handle
	order   []timeline.Fingerprint
}

func NewManager(client remote.Client, logger *slog.Logger) *Manager {
	return &Manager{
		client:  client,
		logger:  logger,
		handles: make(map[timeline.Fingerprint]*Handle),
	}
}

// Register records the unique assets behind the given clips and returns one
// handle per distinct fingerprint, in first-seen order. Clips sharing a
// fingerprint share a handle.
func (m *Manager) Register(clips []timeline.Clip) []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, clip := range clips {
		fp := timeline.FingerprintOf(clip)
		if _, seen := m.handles[fp]; seen {
			continue
		}
		m.handles[fp] = &Handle{
			Fingerprint: fp,
			Name:        clip.Name,
			Path:        clip.Path,
			ByteSize:    clip.ByteSize,
		}
		m.order = append(m.order, fp)
	}

	return m.snapshotLocked()
}

// TransferAll uploads every registered asset, transferring distinct assets in
// parallel and waiting for all before returning. On any individual failure
// the whole call fails with a TransferError; already-uploaded assets remain
// registered so Release can discard them.
func (m *Manager) TransferAll(ctx context.Context, onProgress ProgressFunc) (map[timeline.Fingerprint]string, error) {
	handles := m.Handles()
	if len(handles) == 0 {
		return map[timeline.Fingerprint]string{}, nil
	}

	var totalBytes int64
	for _, h := range handles {
		totalBytes += h.ByteSize
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		sent     atomic.Int64
		errOnce  sync.Once
		firstErr error
	)

	report := func() {
		if onProgress == nil || totalBytes == 0 {
			return
		}
		onProgress(float64(sent.Load()) / float64(totalBytes))
	}

	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()

			remoteID, err := m.uploadOne(ctx, h, &sent, report)
			if err != nil {
				errOnce.Do(func() {
					firstErr = &TransferError{Fingerprint: h.Fingerprint, Err: err}
					cancel() // abandon the remaining uploads
				})
				return
			}

			m.mu.Lock()
			m.handles[h.Fingerprint].RemoteID = remoteID
			m.mu.Unlock()
		}(h)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	result := make(map[timeline.Fingerprint]string, len(handles))
	m.mu.Lock()
	for fp, h := range m.handles {
		result[fp] = h.RemoteID
	}
	m.mu.Unlock()

	m.logger.Info("asset transfer complete",
		"unique_assets", len(handles),
		"total_bytes", totalBytes,
	)
	return result, nil
}

func (m *Manager) uploadOne(ctx context.Context, h *Handle, sent *atomic.Int64, report func()) (string, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return "", fmt.Errorf("open source asset: %w", err)
	}
	defer f.Close()

	reader := &countingReader{
		r: f,
		onRead: func(n int) {
			sent.Add(int64(n))
			report()
		},
	}

	return m.client.UploadAsset(ctx, h.Name, h.ByteSize, reader)
}

// Resolve returns the remote asset id for a fingerprint after TransferAll.
func (m *Manager) Resolve(fp timeline.Fingerprint) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[fp]
	if !ok || h.RemoteID == "" {
		return "", false
	}
	return h.RemoteID, true
}

// Handles returns the registered handles in first-seen order.
func (m *Manager) Handles() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() []*Handle {
	out := make([]*Handle, 0, len(m.order))
	for _, fp := range m.order {
		out = append(out, m.handles[fp])
	}
	return out
}

// Release discards all handles and best-effort deletes every asset that made
// it to the remote service. It runs on every exit path of the owning compile
// operation: success, failure and cancellation alike.
func (m *Manager) Release(ctx context.Context) {
	m.mu.Lock()
	handles := m.snapshotLocked()
	m.handles = make(map[timeline.Fingerprint]*Handle)
	m.order = nil
	m.mu.Unlock()

	for _, h := range handles {
		if h.RemoteID == "" {
			continue
		}
		if err := m.client.DeleteAsset(ctx, h.RemoteID); err != nil {
			m.logger.Warn("remote asset cleanup failed",
				"asset_id", h.RemoteID,
				"error", err,
			)
		}
	}
}

// countingReader reports bytes as they are consumed by the HTTP transport.
type countingReader struct {
	r      io.Reader
	onRead func(n int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.onRead != nil {
		c.onRead(n)
	}
	return n, err
}
