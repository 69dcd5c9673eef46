// Package watch rebuilds policies when certificate material changes on
// disk. Policies lock at their first session, so a reload never mutates the
// running policy; it builds a fresh one and swaps it in.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/meshguard/tlswire/pkg/tlswire"
)

// Config names the PEM files a Reloader builds policies from. CertFile and
// KeyFile are optional for client-only policies that never authenticate
// themselves.
type Config struct {
	CAFile        string
	CertFile      string
	KeyFile       string
	KeyPassphrase string
	VerifyRules   [][]byte

	// Debounce coalesces rapid successive writes, as editors and cert
	// renewal tools produce several events per update. Zero means 100ms.
	Debounce time.Duration
}

// Reloader owns the current policy built from on-disk material and replaces
// it when a watched file changes.
type Reloader struct {
	plugin   tlswire.Plugin
	cfg      Config
	logger   *slog.Logger
	onPolicy func(tlswire.Policy)

	mu      sync.Mutex
	current tlswire.Policy
	closed  bool

	watcher    *fsnotify.Watcher
	reloadChan chan struct{}
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewReloader builds the initial policy from cfg and returns a stopped
// reloader. onPolicy, if non-nil, runs after every successful swap with a
// reference the callee must release.
func NewReloader(plugin tlswire.Plugin, cfg Config, logger *slog.Logger, onPolicy func(tlswire.Policy)) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}

	r := &Reloader{
		plugin:     plugin,
		cfg:        cfg,
		logger:     logger,
		onPolicy:   onPolicy,
		reloadChan: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	pol, err := r.buildPolicy()
	if err != nil {
		return nil, err
	}
	r.current = pol
	return r, nil
}

// Policy returns the current policy with a reference the caller must
// release.
func (r *Reloader) Policy() tlswire.Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.AddRef()
	return r.current
}

// Start begins watching the configured files.
func (r *Reloader) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}

	for _, file := range r.files() {
		if err := watcher.Add(file); err != nil {
			watcher.Close()
			return fmt.Errorf("watch: add %s: %w", file, err)
		}
	}

	r.watcher = watcher
	r.wg.Add(1)
	go r.watchFiles()

	r.logger.Info("watching certificate files", "file_count", len(r.files()))
	return nil
}

// Close stops watching and releases the current policy.
func (r *Reloader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	if r.watcher != nil {
		r.watcher.Close()
	}
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Release()
	r.current = nil
	return nil
}

func (r *Reloader) files() []string {
	files := []string{r.cfg.CAFile}
	if r.cfg.CertFile != "" {
		files = append(files, r.cfg.CertFile)
	}
	if r.cfg.KeyFile != "" {
		files = append(files, r.cfg.KeyFile)
	}
	return files
}

func (r *Reloader) watchFiles() {
	defer r.wg.Done()

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			r.logger.Info("certificate file changed",
				"file", event.Name, "operation", event.Op.String())
			select {
			case r.reloadChan <- struct{}{}:
				r.wg.Add(1)
				go func() {
					defer r.wg.Done()
					select {
					case <-time.After(r.cfg.Debounce):
					case <-r.done:
						<-r.reloadChan
						return
					}
					<-r.reloadChan
					if err := r.reload(); err != nil {
						r.logger.Error("policy reload failed, keeping previous policy", "error", err)
					}
				}()
			default:
				// Reload already pending.
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("certificate file watcher error", "error", err)

		case <-r.done:
			return
		}
	}
}

func (r *Reloader) reload() error {
	pol, err := r.buildPolicy()
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		pol.Release()
		return errors.New("watch: reloader closed")
	}
	old := r.current
	r.current = pol
	r.mu.Unlock()

	old.Release()
	r.logger.Info("policy rebuilt from changed certificate material")

	if r.onPolicy != nil {
		pol.AddRef()
		r.onPolicy(pol)
	}
	return nil
}

func (r *Reloader) buildPolicy() (tlswire.Policy, error) {
	caPEM, err := os.ReadFile(r.cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("watch: read CA bundle: %w", err)
	}

	pol := r.plugin.CreatePolicy(tlswire.SlogLogFunc(r.logger))
	if !pol.SetCAData(caPEM) {
		pol.Release()
		return nil, fmt.Errorf("watch: CA bundle %s rejected", r.cfg.CAFile)
	}

	if r.cfg.CertFile != "" {
		certPEM, err := os.ReadFile(r.cfg.CertFile)
		if err != nil {
			pol.Release()
			return nil, fmt.Errorf("watch: read certificate chain: %w", err)
		}
		if !pol.SetCertData(certPEM) {
			pol.Release()
			return nil, fmt.Errorf("watch: certificate chain %s rejected", r.cfg.CertFile)
		}
	}

	if r.cfg.KeyFile != "" {
		keyPEM, err := os.ReadFile(r.cfg.KeyFile)
		if err != nil {
			pol.Release()
			return nil, fmt.Errorf("watch: read private key: %w", err)
		}
		if !pol.SetKeyData(keyPEM, r.cfg.KeyPassphrase) {
			pol.Release()
			return nil, fmt.Errorf("watch: private key %s rejected", r.cfg.KeyFile)
		}
	}

	if len(r.cfg.VerifyRules) > 0 {
		if !pol.SetVerifyPeers(r.cfg.VerifyRules) {
			pol.Release()
			return nil, errors.New("watch: verify rules rejected")
		}
	}

	return pol, nil
}
