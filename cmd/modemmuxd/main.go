package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"

	"github.com/golang/glog"

	"github.com/robotalks/modemmux/pkg/bridge/mqtt"
	"github.com/robotalks/modemmux/pkg/bridge/websocket"
	"github.com/robotalks/modemmux/pkg/env"
	fx "github.com/robotalks/modemmux/pkg/framework"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()

	conf := env.NewConfig()
	m, err := conf.Open()
	if err != nil {
		log.Fatalln(err)
	}
	defer m.Close()

	runner := fx.NewRunner().HandleSignals()
	runner.Go(fx.NamedRun("mux", m))
	if conf.Start {
		if err := m.Start(); err != nil {
			log.Fatalf("start %s: %v", m.Variant(), err)
		}
	}

	if conf.MQTTBrokerURL != "" {
		bridge, err := mqtt.NewBridge(conf.MQTTBrokerURL, conf.ID(), m)
		if err != nil {
			log.Fatalf("create MQTT bridge error: %v", err)
		}
		bridge.Meta.Device = conf.Device
		runner.Go(fx.NamedRun("mqtt", bridge))
	}
	if conf.WebsocketAddr != "" {
		runner.Go(fx.NamedRun("websocket", websocket.NewServer(conf.WebsocketAddr, m)))
	}

	glog.Infof("multiplexing %s (%s)", conf.Device, m.Variant())
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
