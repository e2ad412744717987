// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package debug

import (
	"log/slog"

	"github.com/brokerauth/gatekeeper"
	"github.com/brokerauth/gatekeeper/store"
)

// Options contains configuration settings for the debug output.
type Options struct {
	ShowPayloads  bool `yaml:"show_payloads" json:"show_payloads"`   // include publish payloads (default false)
	ShowDenials   bool `yaml:"show_denials" json:"show_denials"`     // show denied publishes and subscribes (default true via Init)
	ShowHeartbeat bool `yaml:"show_heartbeat" json:"show_heartbeat"` // show session open and close events (default false)
}

// Hook is a debugging hook which logs additional low-level information from the gateway.
type Hook struct {
	gatekeeper.HookBase
	config *Options
	Log    *slog.Logger
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "debug"
}

// Provides indicates that this hook provides all methods.
func (h *Hook) Provides(b byte) bool {
	return true
}

// Init is called when the hook is initialized.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return gatekeeper.ErrInvalidConfigType
	}

	if config == nil {
		config = &Options{
			ShowDenials: true,
		}
	}

	h.config = config.(*Options)

	return nil
}

// SetOpts is called when the hook receives inheritable gateway parameters.
func (h *Hook) SetOpts(l *slog.Logger, opts *gatekeeper.HookOptions) {
	h.Log = l
	h.Log.Debug("", "method", "SetOpts", "sensitive_topic", opts.SensitiveTopic)
}

// Stop is called when the hook is stopped.
func (h *Hook) Stop() error {
	h.Log.Debug("", "method", "Stop")
	return nil
}

// OnStarted is called when the gateway starts.
func (h *Hook) OnStarted() {
	h.Log.Debug("", "method", "OnStarted")
}

// OnStopped is called when the gateway stops.
func (h *Hook) OnStopped() {
	h.Log.Debug("", "method", "OnStopped")
}

// OnSessionOpened is called when a new connection session is registered.
func (h *Hook) OnSessionOpened(s *gatekeeper.Session) {
	if !h.config.ShowHeartbeat {
		return
	}
	h.Log.Debug("session opened", "session", s.ID)
}

// OnSessionClosed is called when a connection session is removed.
func (h *Hook) OnSessionClosed(s *gatekeeper.Session) {
	if !h.config.ShowHeartbeat {
		return
	}
	h.Log.Debug("session closed", "session", s.ID)
}

// OnAuthenticated is called when a session has been bound to an identity.
func (h *Hook) OnAuthenticated(s *gatekeeper.Session, d store.Identity) {
	h.Log.Debug("authenticated", "session", s.ID, "username", d.Username, "identity", d.Key)
}

// OnAuthFailed is called when a connection attempt was denied.
func (h *Hook) OnAuthFailed(s *gatekeeper.Session, username string, err error) {
	if !h.config.ShowDenials {
		return
	}
	h.Log.Debug("authentication failed", "session", s.ID, "username", username, "error", err)
}

// OnPublishAllowed is called when a publish was authorized.
func (h *Hook) OnPublishAllowed(s *gatekeeper.Session, topic string, payload []byte) {
	if h.config.ShowPayloads {
		h.Log.Debug("publish allowed", "session", s.ID, "topic", topic, "payload", string(payload))
		return
	}
	h.Log.Debug("publish allowed", "session", s.ID, "topic", topic)
}

// OnPublishDenied is called when a publish was denied.
func (h *Hook) OnPublishDenied(s *gatekeeper.Session, topic string, err error) {
	if !h.config.ShowDenials {
		return
	}
	h.Log.Debug("publish denied", "session", s.ID, "topic", topic, "error", err)
}

// OnSubscribeAllowed is called when a subscribe was authorized.
func (h *Hook) OnSubscribeAllowed(s *gatekeeper.Session, topic string) {
	h.Log.Debug("subscribe allowed", "session", s.ID, "topic", topic)
}

// OnSubscribeDenied is called when a subscribe was denied.
func (h *Hook) OnSubscribeDenied(s *gatekeeper.Session, topic string, err error) {
	if !h.config.ShowDenials {
		return
	}
	h.Log.Debug("subscribe denied", "session", s.ID, "topic", topic, "error", err)
}

// OnDoorOpened is called when a door-open audit record was written.
func (h *Hook) OnDoorOpened(s *gatekeeper.Session, r store.AuditRecord) {
	h.Log.Debug("door opened", "session", s.ID, "subject", r.Subject, "record", r.ID)
}

// OnAuditFailed is called when an audit append failed.
func (h *Hook) OnAuditFailed(s *gatekeeper.Session, r store.AuditRecord, err error) {
	h.Log.Debug("audit append failed", "session", s.ID, "kind", r.Kind, "error", err)
}

// OnHistoryAppended is called when a topic history entry was written.
func (h *Hook) OnHistoryAppended(s *gatekeeper.Session, topic string) {
	h.Log.Debug("history appended", "session", s.ID, "topic", topic)
}
