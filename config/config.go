// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package config

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/brokerauth/gatekeeper"
	"github.com/brokerauth/gatekeeper/hooks/debug"
	"github.com/brokerauth/gatekeeper/store"
	"github.com/brokerauth/gatekeeper/store/badger"
	"github.com/brokerauth/gatekeeper/store/bolt"
	"github.com/brokerauth/gatekeeper/store/memory"
	"github.com/brokerauth/gatekeeper/store/pebble"
	"github.com/brokerauth/gatekeeper/store/postgres"
	"github.com/brokerauth/gatekeeper/store/redis"
)

// config defines the structure of configuration data to be parsed from a config source.
type config struct {
	Options     gatekeeper.Options
	Store       StoreConfig `yaml:"store" json:"store"`
	HookConfigs HookConfigs `yaml:"hooks" json:"hooks"`
}

// StoreConfig contains configurations for the different store backends.
// The first configured backend wins; with none configured an empty
// in-memory store is used.
type StoreConfig struct {
	Memory   *memory.Options   `yaml:"memory" json:"memory"`
	Bolt     *bolt.Options     `yaml:"bolt" json:"bolt"`
	Badger   *badger.Options   `yaml:"badger" json:"badger"`
	Pebble   *pebble.Options   `yaml:"pebble" json:"pebble"`
	Redis    *redis.Options    `yaml:"redis" json:"redis"`
	Postgres *postgres.Options `yaml:"postgres" json:"postgres"`
}

// Open opens the configured store backend.
func (sc StoreConfig) Open() (store.Store, error) {
	switch {
	case sc.Memory != nil:
		return memory.New(sc.Memory)
	case sc.Bolt != nil:
		return bolt.New(sc.Bolt)
	case sc.Badger != nil:
		return badger.New(sc.Badger)
	case sc.Pebble != nil:
		return pebble.New(sc.Pebble)
	case sc.Redis != nil:
		return redis.New(sc.Redis)
	case sc.Postgres != nil:
		return postgres.New(sc.Postgres)
	}
	return memory.New(nil)
}

// HookConfigs contains configurations to enable individual hooks.
type HookConfigs struct {
	Debug *debug.Options `yaml:"debug" json:"debug"`
}

// ToHooks converts hook file configurations into hooks to be added to the gateway.
func (hc HookConfigs) ToHooks() []gatekeeper.HookLoadConfig {
	var hlc []gatekeeper.HookLoadConfig

	if hc.Debug != nil {
		hlc = append(hlc, gatekeeper.HookLoadConfig{
			Hook:   new(debug.Hook),
			Config: hc.Debug,
		})
	}

	return hlc
}

// FromBytes unmarshals a byte slice of JSON or YAML config data into a valid
// gateway options value, opening the configured store backend. Any hooks
// configurations are converted into hooks using the ToHooks methods in this
// package.
func FromBytes(b []byte) (*gatekeeper.Options, error) {
	c := new(config)
	o := gatekeeper.Options{}

	if len(b) == 0 {
		return nil, nil
	}

	if b[0] == '{' {
		err := json.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	} else {
		err := yaml.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	}

	o = c.Options
	o.Hooks = c.HookConfigs.ToHooks()

	var err error
	o.Store, err = c.Store.Open()
	if err != nil {
		return nil, err
	}

	return &o, nil
}
