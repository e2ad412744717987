// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

// Package mochi bridges a gateway into a mochi-mqtt broker as a hook, so the
// broker delegates connect, publish, and subscribe decisions to the gateway.
package mochi

import (
	"bytes"
	"errors"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/brokerauth/gatekeeper"
)

// ErrMissingGateway indicates the bridge was initialised without a gateway.
var ErrMissingGateway = errors.New("options must contain a gateway")

// Options contains the gateway the bridge delegates decisions to.
type Options struct {
	Gateway *gatekeeper.Gateway
}

// Hook is a mochi-mqtt hook which defers authentication and authorization
// decisions to a gateway.
type Hook struct {
	mqtt.HookBase
	config *Options
	gw     *gatekeeper.Gateway
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "gatekeeper-bridge"
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnPublish,
		mqtt.OnPublished,
		mqtt.OnSubscribed,
		mqtt.OnUnsubscribed,
		mqtt.OnSessionEstablished,
		mqtt.OnDisconnect,
	}, []byte{b})
}

// Init configures the bridge with a running gateway.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqtt.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)
	if h.config.Gateway == nil {
		return ErrMissingGateway
	}

	h.gw = h.config.Gateway
	return nil
}

// OnConnectAuthenticate is called when a user attempts to authenticate with the
// broker. Session registration waits for OnSessionEstablished; a rejected
// connect never reaches the gateway's session table because the broker fires
// no disconnect for it.
func (h *Hook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	return h.gw.OnAuthenticate(cl.ID, string(pk.Connect.Username), pk.Connect.Password)
}

// OnACLCheck is called when a user attempts to publish or subscribe to a topic.
// Subscriptions are decided here; publishes are deferred to OnPublish where
// the message payload is available for auditing.
func (h *Hook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if write {
		return true
	}
	return h.gw.OnAuthorizeSubscribe(cl.ID, topic)
}

// OnPublish is called when a client publishes a message. Denied messages are
// rejected without disconnecting the client.
func (h *Hook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if !h.gw.OnAuthorizePublish(cl.ID, pk.TopicName, pk.Payload) {
		return pk, packets.ErrRejectPacket
	}
	return pk, nil
}

// OnPublished is called when a client has published a message to subscribers.
func (h *Hook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	h.gw.OnPublished(cl.ID, pk.TopicName)
}

// OnSubscribed is called when a client subscribes to one or more filters.
func (h *Hook) OnSubscribed(cl *mqtt.Client, pk packets.Packet, reasonCodes []byte) {
	for i := 0; i < len(pk.Filters); i++ {
		h.gw.OnSubscribed(cl.ID, pk.Filters[i].Filter)
	}
}

// OnUnsubscribed is called when a client unsubscribes from one or more filters.
func (h *Hook) OnUnsubscribed(cl *mqtt.Client, pk packets.Packet) {
	for i := 0; i < len(pk.Filters); i++ {
		h.gw.OnUnsubscribed(cl.ID, pk.Filters[i].Filter)
	}
}

// OnSessionEstablished is called when a new client establishes a session.
func (h *Hook) OnSessionEstablished(cl *mqtt.Client, pk packets.Packet) {
	h.gw.OnClientConnect(cl.ID)
}

// OnDisconnect is called when a client is disconnected for any reason.
func (h *Hook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.gw.OnClientDisconnect(cl.ID)
}
