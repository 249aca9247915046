package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/seantiz/fluxd/internal/model"
)

// ErrAssetBusy is returned when an asset cannot be changed because a
// download or import is in progress.
var ErrAssetBusy = errors.New("model asset is being installed")

// progressStep is how many bytes pass between download progress logs.
const progressStep = 512 << 20

// Status is an asset together with its installation state.
type Status struct {
	Asset
	State     string `json:"state"`
	Size      int64  `json:"size,omitempty"`
	SizeHuman string `json:"size_human,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Options configures a Manager.
type Options struct {
	// ModelDir is the engine's models directory.
	ModelDir string

	// Token is sent as a bearer token on downloads when set.
	Token string

	// HTTPClient defaults to a client with no overall timeout.
	HTTPClient *http.Client
}

// Manager downloads, imports and deletes catalog assets. Downloads run in
// the background; at most one install per asset runs at a time.
type Manager struct {
	catalog  *Catalog
	registry *Registry
	modelDir string
	token    string
	http     *http.Client
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// fileMu orders final renames against deletes.
	fileMu sync.Mutex

	errMu   sync.Mutex
	lastErr map[string]string
}

// NewManager creates a manager and records which assets are already on disk.
func NewManager(opts Options, catalog *Catalog, logger *slog.Logger) *Manager {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		catalog:  catalog,
		registry: NewRegistry(),
		modelDir: opts.ModelDir,
		token:    opts.Token,
		http:     hc,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		lastErr:  make(map[string]string),
	}
	m.Refresh()
	return m
}

// Refresh marks assets present on disk as installed and absent ones as
// not installed. Assets being installed are left alone.
func (m *Manager) Refresh() {
	for _, a := range m.catalog.Assets() {
		if m.registry.Status(a.Name) == model.AssetInstalling {
			continue
		}
		if _, err := os.Stat(m.path(a)); err == nil {
			m.registry.Set(a.Name, model.AssetInstalled)
		} else {
			m.registry.Set(a.Name, model.AssetNotInstalled)
		}
	}
}

// List returns every catalog asset with its state.
func (m *Manager) List() []Status {
	assets := m.catalog.Assets()
	out := make([]Status, 0, len(assets))
	for _, a := range assets {
		out = append(out, m.status(a))
	}
	return out
}

// Status returns the state of one asset.
func (m *Manager) Status(name string) (Status, error) {
	a, err := m.catalog.Lookup(name)
	if err != nil {
		return Status{}, err
	}
	return m.status(a), nil
}

// Missing returns the names in names that are not installed.
func (m *Manager) Missing(names []string) []string {
	var missing []string
	for _, n := range names {
		if m.registry.Status(n) != model.AssetInstalled {
			missing = append(missing, n)
		}
	}
	return missing
}

func (m *Manager) status(a Asset) Status {
	s := Status{Asset: a, State: m.registry.Status(a.Name)}
	if s.State == model.AssetInstalled {
		if info, err := os.Stat(m.path(a)); err == nil {
			s.Size = info.Size()
			s.SizeHuman = humanize.Bytes(uint64(info.Size()))
		}
	}
	m.errMu.Lock()
	s.Error = m.lastErr[a.Name]
	m.errMu.Unlock()
	return s
}

// StartDownload begins downloading name in the background and returns the
// asset's state. It does nothing if the asset is already installing or
// installed.
func (m *Manager) StartDownload(name string) (Status, error) {
	a, err := m.catalog.Lookup(name)
	if err != nil {
		return Status{}, err
	}
	if !m.registry.BeginInstall(a.Name) {
		return m.status(a), nil
	}

	m.setErr(a.Name, "")
	assetDownloads.WithLabelValues(downloadStarted).Inc()
	m.wg.Go(func() {
		if err := m.download(m.ctx, a); err != nil {
			assetDownloads.WithLabelValues(downloadFailed).Inc()
			m.registry.Set(a.Name, model.AssetNotInstalled)
			m.setErr(a.Name, err.Error())
			m.logger.Error("model download failed", "asset", a.Name, "error", err)
			return
		}
		assetDownloads.WithLabelValues(downloadSucceeded).Inc()
		m.registry.Set(a.Name, model.AssetInstalled)
	})

	return m.status(a), nil
}

func (m *Manager) download(ctx context.Context, a Asset) error {
	dest := m.path(a)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	m.logger.Info("model download started", "asset", a.Name, "url", a.URL)
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", a.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", a.URL, resp.StatusCode)
	}

	pw := &progressWriter{name: a.Name, total: resp.ContentLength, logger: m.logger, next: progressStep}
	n, err := m.writeAtomic(dest, io.TeeReader(resp.Body, pw))
	if err != nil {
		return err
	}

	m.logger.Info("model download finished", "asset", a.Name, "size", humanize.Bytes(uint64(n)))
	return nil
}

// Delete removes an installed asset's file. Deleting an asset that is not
// installed is a no-op.
func (m *Manager) Delete(name string) error {
	a, err := m.catalog.Lookup(name)
	if err != nil {
		return err
	}
	if !m.registry.Remove(a.Name) {
		return fmt.Errorf("%w: %s", ErrAssetBusy, a.Name)
	}

	m.fileMu.Lock()
	defer m.fileMu.Unlock()
	if err := os.Remove(m.path(a)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.Refresh()
		return fmt.Errorf("delete %s: %w", a.Name, err)
	}
	m.logger.Info("model deleted", "asset", a.Name)
	return nil
}

// ImportDir copies catalog assets found in dir into place and returns the
// names imported. A file is looked up both at dir/<name> and at
// dir/<kind>/<name>. Installed or installing assets are skipped.
func (m *Manager) ImportDir(dir string) ([]string, error) {
	var imported []string
	for _, a := range m.catalog.Assets() {
		src, ok := findImport(dir, a)
		if !ok {
			continue
		}
		if !m.registry.BeginInstall(a.Name) {
			m.logger.Info("model import skipped", "asset", a.Name, "state", m.registry.Status(a.Name))
			continue
		}

		n, err := m.importFile(src, a)
		if err != nil {
			m.registry.Set(a.Name, model.AssetNotInstalled)
			return imported, fmt.Errorf("import %s: %w", a.Name, err)
		}
		m.registry.Set(a.Name, model.AssetInstalled)
		m.logger.Info("model imported", "asset", a.Name, "from", src, "size", humanize.Bytes(uint64(n)))
		imported = append(imported, a.Name)
	}
	return imported, nil
}

func (m *Manager) importFile(src string, a Asset) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dest := m.path(a)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create model dir: %w", err)
	}
	return m.writeAtomic(dest, f)
}

func findImport(dir string, a Asset) (string, bool) {
	for _, p := range []string{filepath.Join(dir, a.Name), filepath.Join(dir, a.RelPath())} {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

// writeAtomic copies r to a temporary file beside dest and renames it into
// place once complete.
func (m *Manager) writeAtomic(dest string, r io.Reader) (int64, error) {
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}

	m.fileMu.Lock()
	defer m.fileMu.Unlock()
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("move %s into place: %w", filepath.Base(dest), err)
	}
	return n, nil
}

// Wait blocks until every background download has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels in-flight downloads and waits for them to stop or for
// ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) path(a Asset) string {
	return filepath.Join(m.modelDir, a.RelPath())
}

func (m *Manager) setErr(name, msg string) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	if msg == "" {
		delete(m.lastErr, name)
		return
	}
	m.lastErr[name] = msg
}

// progressWriter logs download progress every progressStep bytes.
type progressWriter struct {
	name    string
	total   int64
	written int64
	next    int64
	logger  *slog.Logger
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.written >= p.next {
		p.next += progressStep
		attrs := []any{"asset", p.name, "downloaded", humanize.Bytes(uint64(p.written))}
		if p.total > 0 {
			attrs = append(attrs, "total", humanize.Bytes(uint64(p.total)))
		}
		p.logger.Info("model download progress", attrs...)
	}
	return len(b), nil
}
