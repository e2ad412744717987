// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package gatekeeper

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/brokerauth/gatekeeper/store"
)

const (
	SetOptions byte = iota
	OnStarted
	OnStopped
	OnSessionOpened
	OnSessionClosed
	OnAuthenticated
	OnAuthFailed
	OnPublishAllowed
	OnPublishDenied
	OnSubscribeAllowed
	OnSubscribeDenied
	OnDoorOpened
	OnAuditFailed
	OnHistoryAppended
)

var (
	// ErrInvalidConfigType indicates a different Type of config value was expected to what was received.
	ErrInvalidConfigType = errors.New("invalid config type provided")
)

// Hook provides an interface of handlers for different events which occur
// during the lifecycle of the gateway. Hooks observe decisions; they can
// never veto or alter one, and a hook failure never fails the decision path.
type Hook interface {
	ID() string
	Provides(b byte) bool
	Init(config any) error
	Stop() error
	SetOpts(l *slog.Logger, o *HookOptions)
	OnStarted()
	OnStopped()
	OnSessionOpened(s *Session)
	OnSessionClosed(s *Session)
	OnAuthenticated(s *Session, d store.Identity)
	OnAuthFailed(s *Session, username string, err error)
	OnPublishAllowed(s *Session, topic string, payload []byte)
	OnPublishDenied(s *Session, topic string, err error)
	OnSubscribeAllowed(s *Session, topic string)
	OnSubscribeDenied(s *Session, topic string, err error)
	OnDoorOpened(s *Session, r store.AuditRecord)
	OnAuditFailed(s *Session, r store.AuditRecord, err error)
	OnHistoryAppended(s *Session, topic string)
}

// HookOptions contains values which are inherited from the gateway on initialisation.
type HookOptions struct {
	SensitiveTopic string
}

// HookLoadConfig contains the hook and configuration as loaded from a configuration.
type HookLoadConfig struct {
	Hook   Hook
	Config any
}

// Hooks is a slice of Hook interfaces to be called in sequence.
type Hooks struct {
	Log        *slog.Logger   // a logger for the hook (from the gateway)
	internal   atomic.Value   // a slice of []Hook
	wg         sync.WaitGroup // a waitgroup for syncing hook shutdown
	qty        int64          // the number of hooks in use
	sync.Mutex                // a mutex for locking when adding hooks
}

// Len returns the number of hooks added.
func (h *Hooks) Len() int64 {
	return atomic.LoadInt64(&h.qty)
}

// Provides returns true if any one hook provides any of the requested hook methods.
func (h *Hooks) Provides(b ...byte) bool {
	for _, hook := range h.GetAll() {
		for _, hb := range b {
			if hook.Provides(hb) {
				return true
			}
		}
	}

	return false
}

// Add adds and initializes a new hook.
func (h *Hooks) Add(hook Hook, config any) error {
	h.Lock()
	defer h.Unlock()

	err := hook.Init(config)
	if err != nil {
		return fmt.Errorf("failed initialising %s hook: %w", hook.ID(), err)
	}

	i, ok := h.internal.Load().([]Hook)
	if !ok {
		i = []Hook{}
	}

	i = append(i, hook)
	h.internal.Store(i)
	atomic.AddInt64(&h.qty, 1)
	h.wg.Add(1)

	return nil
}

// GetAll returns a slice of all the hooks.
func (h *Hooks) GetAll() []Hook {
	i, ok := h.internal.Load().([]Hook)
	if !ok {
		return []Hook{}
	}

	return i
}

// Stop indicates all attached hooks to gracefully end.
func (h *Hooks) Stop() {
	go func() {
		for _, hook := range h.GetAll() {
			h.Log.Info("stopping hook", "hook", hook.ID())
			if err := hook.Stop(); err != nil {
				h.Log.Debug("problem stopping hook", "error", err, "hook", hook.ID())
			}

			h.wg.Done()
		}
	}()

	h.wg.Wait()
}

// OnStarted is called when the gateway has successfully started.
func (h *Hooks) OnStarted() {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStarted) {
			hook.OnStarted()
		}
	}
}

// OnStopped is called when the gateway has successfully stopped.
func (h *Hooks) OnStopped() {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStopped) {
			hook.OnStopped()
		}
	}
}

// OnSessionOpened is called when a new connection session is registered.
func (h *Hooks) OnSessionOpened(s *Session) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSessionOpened) {
			hook.OnSessionOpened(s)
		}
	}
}

// OnSessionClosed is called when a connection session is removed on disconnect.
func (h *Hooks) OnSessionClosed(s *Session) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSessionClosed) {
			hook.OnSessionClosed(s)
		}
	}
}

// OnAuthenticated is called when a session has been bound to an identity.
func (h *Hooks) OnAuthenticated(s *Session, d store.Identity) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnAuthenticated) {
			hook.OnAuthenticated(s, d)
		}
	}
}

// OnAuthFailed is called when a connection attempt was denied.
func (h *Hooks) OnAuthFailed(s *Session, username string, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnAuthFailed) {
			hook.OnAuthFailed(s, username, err)
		}
	}
}

// OnPublishAllowed is called when a publish was authorized.
func (h *Hooks) OnPublishAllowed(s *Session, topic string, payload []byte) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPublishAllowed) {
			hook.OnPublishAllowed(s, topic, payload)
		}
	}
}

// OnPublishDenied is called when a publish was denied.
func (h *Hooks) OnPublishDenied(s *Session, topic string, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPublishDenied) {
			hook.OnPublishDenied(s, topic, err)
		}
	}
}

// OnSubscribeAllowed is called when a subscribe was authorized.
func (h *Hooks) OnSubscribeAllowed(s *Session, topic string) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSubscribeAllowed) {
			hook.OnSubscribeAllowed(s, topic)
		}
	}
}

// OnSubscribeDenied is called when a subscribe was denied.
func (h *Hooks) OnSubscribeDenied(s *Session, topic string, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSubscribeDenied) {
			hook.OnSubscribeDenied(s, topic, err)
		}
	}
}

// OnDoorOpened is called when a publish to the reserved sensitive topic
// produced a door-open audit record.
func (h *Hooks) OnDoorOpened(s *Session, r store.AuditRecord) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnDoorOpened) {
			hook.OnDoorOpened(s, r)
		}
	}
}

// OnAuditFailed is called when an audit append failed after the publish was
// already allowed. The publish stands; audit completeness is best-effort.
func (h *Hooks) OnAuditFailed(s *Session, r store.AuditRecord, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnAuditFailed) {
			hook.OnAuditFailed(s, r, err)
		}
	}
}

// OnHistoryAppended is called when an accepted publish topic has been added
// to the publishing identity's topic history.
func (h *Hooks) OnHistoryAppended(s *Session, topic string) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnHistoryAppended) {
			hook.OnHistoryAppended(s, topic)
		}
	}
}

// HookBase provides a set of default methods for each hook. It should be
// embedded in all hooks.
type HookBase struct {
	Hook
	Log  *slog.Logger
	Opts *HookOptions
}

// ID returns the ID of the hook.
func (h *HookBase) ID() string {
	return "base"
}

// Provides indicates which methods a hook provides. The default is none - this method
// should be overridden by the embedding hook.
func (h *HookBase) Provides(b byte) bool {
	return false
}

// Init performs any pre-start initializations for the hook, such as connecting to databases
// or opening files.
func (h *HookBase) Init(config any) error {
	return nil
}

// SetOpts is called by the gateway to propagate internal values and generally should
// not be called manually.
func (h *HookBase) SetOpts(l *slog.Logger, opts *HookOptions) {
	h.Log = l
	h.Opts = opts
}

// Stop is called to gracefully shut down the hook.
func (h *HookBase) Stop() error {
	return nil
}

// OnStarted is called when the gateway starts.
func (h *HookBase) OnStarted() {}

// OnStopped is called when the gateway stops.
func (h *HookBase) OnStopped() {}

// OnSessionOpened is called when a new connection session is registered.
func (h *HookBase) OnSessionOpened(s *Session) {}

// OnSessionClosed is called when a connection session is removed.
func (h *HookBase) OnSessionClosed(s *Session) {}

// OnAuthenticated is called when a session has been bound to an identity.
func (h *HookBase) OnAuthenticated(s *Session, d store.Identity) {}

// OnAuthFailed is called when a connection attempt was denied.
func (h *HookBase) OnAuthFailed(s *Session, username string, err error) {}

// OnPublishAllowed is called when a publish was authorized.
func (h *HookBase) OnPublishAllowed(s *Session, topic string, payload []byte) {}

// OnPublishDenied is called when a publish was denied.
func (h *HookBase) OnPublishDenied(s *Session, topic string, err error) {}

// OnSubscribeAllowed is called when a subscribe was authorized.
func (h *HookBase) OnSubscribeAllowed(s *Session, topic string) {}

// OnSubscribeDenied is called when a subscribe was denied.
func (h *HookBase) OnSubscribeDenied(s *Session, topic string, err error) {}

// OnDoorOpened is called when a door-open audit record was written.
func (h *HookBase) OnDoorOpened(s *Session, r store.AuditRecord) {}

// OnAuditFailed is called when an audit append failed.
func (h *HookBase) OnAuditFailed(s *Session, r store.AuditRecord, err error) {}

// OnHistoryAppended is called when a topic history entry was written.
func (h *HookBase) OnHistoryAppended(s *Session, topic string) {}
