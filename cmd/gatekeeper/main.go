// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/brokerauth/gatekeeper"
	"github.com/brokerauth/gatekeeper/bridge/mochi"
	"github.com/brokerauth/gatekeeper/config"
)

func main() {
	configFile := flag.String("config", "gatekeeper.yaml", "path to a yaml or json config file")
	tcpAddr := flag.String("tcp", ":1889", "network address for the tcp listener")
	flag.Parse()

	sigs := make(chan os.Signal, 1)
	done := make(chan bool, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		done <- true
	}()

	configBytes, err := os.ReadFile(*configFile)
	if err != nil {
		log.Fatal(err)
	}

	options, err := config.FromBytes(configBytes)
	if err != nil {
		log.Fatal(err)
	}

	gw := gatekeeper.New(options)
	err = gw.Serve()
	if err != nil {
		log.Fatal(err)
	}

	server := mqtt.New(nil)
	err = server.AddHook(new(mochi.Hook), &mochi.Options{
		Gateway: gw,
	})
	if err != nil {
		log.Fatal(err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: *tcpAddr})
	err = server.AddListener(tcp)
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		err := server.Serve()
		if err != nil {
			log.Fatal(err)
		}
	}()
	gw.Log.Info("broker listening", "address", *tcpAddr)

	<-done
	gw.Log.Warn("caught signal, stopping...")
	_ = server.Close()
	_ = gw.Close()
	gw.Log.Info("main.go finished")
}
