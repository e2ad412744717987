// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

// Package gatekeeper provides a credential and topic-permission control plane
// for publish-subscribe message brokers. It decides, for every connecting
// client, whether it may connect, and for every topic operation, whether it
// may publish or subscribe, and records an auditable trail of sensitive
// operations. The broker's wire protocol and message delivery belong to an
// external broker engine which drives the gateway through its On* methods.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rs/xid"

	"github.com/brokerauth/gatekeeper/store"
)

const (
	Version = "1.2.0" // the current gateway version.

	// DefaultSensitiveTopic is the reserved topic whose accepted publishes
	// additionally produce a door-open audit record.
	DefaultSensitiveTopic = "door/log"

	defaultStoreTimeout     = 5 // seconds
	defaultFanPoolSize      = 16
	defaultFanPoolQueueSize = 256
)

var (
	ErrMissingStore         = errors.New("options must contain a credential store")     // no store.Store was configured
	ErrMalformedCredentials = errors.New("malformed credentials")                       // a required credential field was missing
	ErrInvalidCredentials   = errors.New("invalid credentials")                         // the claimed identity did not match the stored record
	ErrUnauthenticated      = errors.New("session is not authenticated")                // authorization was attempted before authentication succeeded
	ErrTopicNotPermitted    = errors.New("topic is not permitted")                      // the topic is not in the identity's permitted set
	ErrStoreUnavailable     = errors.New("store unavailable")                           // the credential or audit store errored or timed out
)

// Options contains configurable options for the gateway.
type Options struct {
	// Store is the credential and audit record store backing all decisions.
	Store store.Store `yaml:"-" json:"-"`

	// Hooks specifies any hooks which should be added on Serve. Used when setting hooks by config.
	Hooks []HookLoadConfig `yaml:"-" json:"-"`

	// Codec reverses the transport encoding of connecting secrets.
	// Defaults to Base64Codec.
	Codec SecretCodec `yaml:"-" json:"-"`

	// Logger specifies a custom configured implementation of log/slog to
	// override the gateway's default logger configuration.
	Logger *slog.Logger `yaml:"-" json:"-"`

	// Lookup selects how an authenticating identity is resolved: by the
	// claimed username (default), or by a pre-provisioned connection key.
	Lookup store.Lookup `yaml:"lookup" json:"lookup"`

	// SensitiveTopic is the reserved topic which produces door-open audit
	// records. Defaults to DefaultSensitiveTopic.
	SensitiveTopic string `yaml:"sensitive_topic" json:"sensitive_topic"`

	// StoreTimeout bounds each store call made on the decision path, in
	// seconds. A call exceeding it resolves to a denial, never an allow.
	StoreTimeout int64 `yaml:"store_timeout" json:"store_timeout"`

	// FanPoolSize is the number of columns in the history worker fan pool.
	FanPoolSize uint64 `yaml:"fan_pool_size" json:"fan_pool_size"`

	// FanPoolQueueSize is the size of each fan pool column queue.
	FanPoolQueueSize uint64 `yaml:"fan_pool_queue_size" json:"fan_pool_queue_size"`
}

// ensureDefaults populates any absent options with default values.
func (o *Options) ensureDefaults() {
	if o.Codec == nil {
		o.Codec = Base64Codec{}
	}
	if o.Lookup == "" {
		o.Lookup = store.LookupUsername
	}
	if o.SensitiveTopic == "" {
		o.SensitiveTopic = DefaultSensitiveTopic
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}
	if o.FanPoolSize == 0 {
		o.FanPoolSize = defaultFanPoolSize
	}
	if o.FanPoolQueueSize == 0 {
		o.FanPoolQueueSize = defaultFanPoolQueueSize
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
}

// Gateway is an authentication and authorization gateway for a pub-sub
// broker. It should be created with gatekeeper.New() in order to ensure all
// the internal fields are correctly populated.
type Gateway struct {
	Options  *Options     // configurable gateway options
	Sessions *Sessions    // live connection sessions known to the gateway
	Log      *slog.Logger // minimal no-alloc logger
	hooks    *Hooks       // hooks for observing decisions and audit events
	pool     *FanPool     // fan pool for per-identity ordered history writes
}

// New returns a new instance of Gateway. Calls to the decision methods are
// safe to make concurrently across different connections.
func New(opts *Options) *Gateway {
	if opts == nil {
		opts = new(Options)
	}
	opts.ensureDefaults()

	return &Gateway{
		Options:  opts,
		Sessions: NewSessions(),
		Log:      opts.Logger,
		hooks:    &Hooks{Log: opts.Logger},
		pool:     NewFanPool(opts.FanPoolSize, opts.FanPoolQueueSize),
	}
}

// AddHook attaches a new hook to the gateway. Hooks can be used to observe
// authentication and authorization outcomes and audit events.
func (g *Gateway) AddHook(hook Hook, config any) error {
	nl := g.Log.With("hook", hook.ID())
	hook.SetOpts(nl, &HookOptions{
		SensitiveTopic: g.Options.SensitiveTopic,
	})

	g.Log.Info("added hook", "hook", hook.ID())
	return g.hooks.Add(hook, config)
}

// Serve prepares the gateway for use: any hooks from the options are
// attached, and the started event is emitted. It returns an error if no
// credential store was configured.
func (g *Gateway) Serve() error {
	if g.Options.Store == nil {
		return ErrMissingStore
	}

	if len(g.Options.Hooks) > 0 {
		for _, cfg := range g.Options.Hooks {
			if err := g.AddHook(cfg.Hook, cfg.Config); err != nil {
				return err
			}
		}
	}

	g.Log.Info("gatekeeper starting", "version", Version, "lookup", string(g.Options.Lookup))
	g.hooks.OnStarted()
	return nil
}

// Close gracefully stops the gateway: pending history writes are drained,
// hooks are stopped and the store is released.
func (g *Gateway) Close() error {
	g.pool.Close()
	g.pool.Wait()
	g.hooks.OnStopped()
	g.hooks.Stop()

	var err error
	if g.Options.Store != nil {
		err = g.Options.Store.Close()
	}

	g.Log.Info("gatekeeper stopped")
	return err
}

// storeCtx derives a bounded context for a single store call. A store call
// which overruns the deadline resolves to a denial at the caller.
func (g *Gateway) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, time.Duration(g.Options.StoreTimeout)*time.Second)
}

// OnClientConnect registers a session for a newly connected transport
// connection. If the transport supplied no connection id, one is generated.
func (g *Gateway) OnClientConnect(connectionID string) *Session {
	s := g.Sessions.Add(connectionID)
	g.Log.Info("client connected", "client", s.ID)
	g.hooks.OnSessionOpened(s)
	return s
}

// OnClientDisconnect removes the session for a disconnected connection.
func (g *Gateway) OnClientDisconnect(connectionID string) {
	s, ok := g.Sessions.Get(connectionID)
	if !ok {
		return
	}

	g.Sessions.Delete(connectionID)
	g.Log.Info("client disconnected", "client", connectionID)
	g.hooks.OnSessionClosed(s)
}

// Authenticate validates a connection attempt's claimed identity and encoded
// secret. On success the session is bound to the resolved identity key and
// nil is returned; otherwise a typed denial reason is returned. The bind is
// all-or-nothing; no partial session state is left behind on denial.
func (g *Gateway) Authenticate(ctx context.Context, connectionID, username string, encodedSecret []byte) error {
	if connectionID == "" || username == "" || len(encodedSecret) == 0 {
		// Missing required fields fail before any store I/O.
		return ErrMalformedCredentials
	}

	secret, err := g.Options.Codec.Decode(encodedSecret)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedCredentials, err)
	}

	s, existed := g.Sessions.Get(connectionID)
	if !existed {
		s = g.Sessions.Add(connectionID)
	}

	d, err := g.lookupIdentity(ctx, connectionID, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = ErrInvalidCredentials
		} else {
			err = fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
		}
		g.Log.Info("client failed authentication check", "client", connectionID, "username", username, "error", err)
		g.hooks.OnAuthFailed(s, username, err)
		if !existed {
			// A denied attempt leaves no session behind.
			g.Sessions.Delete(s.ID)
		}
		return err
	}

	if d.Username != username || d.Secret != string(secret) {
		g.Log.Info("client failed authentication check", "client", connectionID, "username", username)
		g.hooks.OnAuthFailed(s, username, ErrInvalidCredentials)
		if !existed {
			g.Sessions.Delete(s.ID)
		}
		return ErrInvalidCredentials
	}

	s.Bind(d.Key)
	g.Log.Info("client authenticated", "client", connectionID, "username", username, "identity", d.Key)
	g.hooks.OnAuthenticated(s, d)
	return nil
}

// lookupIdentity resolves the identity record for an authentication attempt
// using the configured lookup strategy.
func (g *Gateway) lookupIdentity(ctx context.Context, connectionID, username string) (store.Identity, error) {
	ctx, cancel := g.storeCtx(ctx)
	defer cancel()

	if g.Options.Lookup == store.LookupConnectionKey {
		return g.Options.Store.Identity(ctx, connectionID)
	}
	return g.Options.Store.IdentityByUsername(ctx, username)
}

// AuthorizePublish validates a publish request against the publishing
// identity's permitted topic set, re-fetched fresh from the store so that
// permission changes take effect on the next request. On allow, audit
// records are appended before the grant is returned; append failures are
// reported to hooks and logged, but the publish stands.
func (g *Gateway) AuthorizePublish(ctx context.Context, connectionID, topic string, payload []byte) error {
	s, d, err := g.resolve(ctx, connectionID)
	if err != nil {
		if s != nil {
			g.hooks.OnPublishDenied(s, topic, err)
		}
		g.Log.Debug("client failed publish check", "client", connectionID, "topic", topic, "error", err)
		return err
	}

	if !d.PermitsTopic(topic) {
		// An empty permitted set also lands here; the degenerate case is a
		// definite deny, never an absent decision.
		g.hooks.OnPublishDenied(s, topic, ErrTopicNotPermitted)
		g.Log.Debug("client failed publish check", "client", connectionID, "topic", topic)
		return ErrTopicNotPermitted
	}

	g.audit(ctx, s, d, topic, payload)
	g.hooks.OnPublishAllowed(s, topic, payload)
	return nil
}

// AuthorizeSubscribe validates a subscribe request against the identity's
// permitted topic set, re-fetched fresh from the store.
func (g *Gateway) AuthorizeSubscribe(ctx context.Context, connectionID, topic string) error {
	s, d, err := g.resolve(ctx, connectionID)
	if err != nil {
		if s != nil {
			g.hooks.OnSubscribeDenied(s, topic, err)
		}
		g.Log.Debug("client failed subscribe check", "client", connectionID, "topic", topic, "error", err)
		return err
	}

	if !d.PermitsTopic(topic) {
		g.hooks.OnSubscribeDenied(s, topic, ErrTopicNotPermitted)
		g.Log.Debug("client failed subscribe check", "client", connectionID, "topic", topic)
		return ErrTopicNotPermitted
	}

	g.hooks.OnSubscribeAllowed(s, topic)
	return nil
}

// resolve returns the session and the freshly fetched identity record for an
// authorization request, or the denial reason if the session is unknown,
// unauthenticated, or the store could not serve the read.
func (g *Gateway) resolve(ctx context.Context, connectionID string) (*Session, store.Identity, error) {
	s, ok := g.Sessions.Get(connectionID)
	if !ok {
		return nil, store.Identity{}, ErrUnauthenticated
	}

	key, bound := s.IdentityKey()
	if !bound {
		return s, store.Identity{}, ErrUnauthenticated
	}

	sctx, cancel := g.storeCtx(ctx)
	defer cancel()

	d, err := g.Options.Store.Identity(sctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The bound identity has been removed out-of-band.
			return s, store.Identity{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, store.ErrNotFound)
		}
		return s, store.Identity{}, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}

	return s, d, nil
}

// audit appends the audit records for an allowed publish: a door-open record
// when the topic is the reserved sensitive topic, and always a generic
// message record. Both appends are attempted before the grant is
// acknowledged; a failed append is non-fatal and best-effort.
func (g *Gateway) audit(ctx context.Context, s *Session, d store.Identity, topic string, payload []byte) {
	if topic == g.Options.SensitiveTopic {
		r := store.AuditRecord{
			ID:      xid.New().String(),
			T:       store.AuditKey,
			Kind:    store.KindDoorOpen,
			Subject: d.AuditSubject,
			Topic:   topic,
			Payload: string(payload), // the "opened by" value
			Created: time.Now().Unix(),
		}
		if err := g.appendAudit(ctx, r); err != nil {
			g.Log.Error("failed to append door audit record", "error", err, "client", s.ID, "topic", topic)
			g.hooks.OnAuditFailed(s, r, err)
		} else {
			g.hooks.OnDoorOpened(s, r)
		}
	}

	r := store.AuditRecord{
		ID:      xid.New().String(),
		T:       store.AuditKey,
		Kind:    store.KindMessage,
		Subject: d.AuditSubject,
		Topic:   topic,
		Payload: string(payload),
		Created: time.Now().Unix(),
	}
	if err := g.appendAudit(ctx, r); err != nil {
		g.Log.Error("failed to append audit record", "error", err, "client", s.ID, "topic", topic)
		g.hooks.OnAuditFailed(s, r, err)
	}
}

// appendAudit performs a single bounded audit append.
func (g *Gateway) appendAudit(ctx context.Context, r store.AuditRecord) error {
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	return g.Options.Store.AppendAudit(sctx, r)
}

// OnAuthenticate adapts Authenticate to the boolean form broker engines
// expect from an authentication callback.
func (g *Gateway) OnAuthenticate(connectionID, username string, encodedSecret []byte) bool {
	return g.Authenticate(context.Background(), connectionID, username, encodedSecret) == nil
}

// OnAuthorizePublish adapts AuthorizePublish to the boolean callback form.
func (g *Gateway) OnAuthorizePublish(connectionID, topic string, payload []byte) bool {
	return g.AuthorizePublish(context.Background(), connectionID, topic, payload) == nil
}

// OnAuthorizeSubscribe adapts AuthorizeSubscribe to the boolean callback form.
func (g *Gateway) OnAuthorizeSubscribe(connectionID, topic string) bool {
	return g.AuthorizeSubscribe(context.Background(), connectionID, topic) == nil
}

// OnSubscribed observes a completed subscription for traceability.
func (g *Gateway) OnSubscribed(connectionID, topic string) {
	g.Log.Info("client subscribed", "client", connectionID, "topic", topic)
}

// OnUnsubscribed observes a completed unsubscription for traceability.
func (g *Gateway) OnUnsubscribed(connectionID, topic string) {
	g.Log.Info("client unsubscribed", "client", connectionID, "topic", topic)
}

// OnPublished observes a delivered publish and appends the topic to the
// publishing identity's topic history. The append runs on the fan pool
// keyed on the identity, so appends for one identity never race each other
// and the broker's event loop is never blocked on store I/O.
func (g *Gateway) OnPublished(connectionID, topic string) {
	s, ok := g.Sessions.Get(connectionID)
	if !ok {
		return
	}

	key, bound := s.IdentityKey()
	if !bound {
		return
	}

	g.Log.Info("client published message", "client", connectionID, "topic", topic)

	g.pool.Enqueue(key, func() {
		ctx, cancel := g.storeCtx(context.Background())
		defer cancel()

		if err := g.Options.Store.AppendHistory(ctx, key, topic); err != nil {
			g.Log.Error("failed to append topic history", "error", err, "identity", key, "topic", topic)
			return
		}
		g.hooks.OnHistoryAppended(s, topic)
	})
}
