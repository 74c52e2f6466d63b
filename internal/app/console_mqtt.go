package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/indoor_tracker/internal/config"
	"github.com/relabs-tech/indoor_tracker/internal/position"
	"github.com/relabs-tech/indoor_tracker/internal/publish"
	"github.com/relabs-tech/indoor_tracker/internal/route"
)

// consoleHandlers returns the print handler for each tracker topic.
func consoleHandlers(w io.Writer, topics publish.Topics) map[string]mqtt.MessageHandler {
	return map[string]mqtt.MessageHandler{
		topics.Position: func(_ mqtt.Client, msg mqtt.Message) {
			var p position.Position
			if err := json.Unmarshal(msg.Payload(), &p); err != nil {
				log.Printf("console: position unmarshal error: %v", err)
				return
			}
			fmt.Fprintf(w, "[POS ]  X=%8.1f  Y=%8.1f  HDG=%6.1f  conf=%s drift=%.2fm\n",
				p.X, p.Y, p.Heading, p.Confidence, p.DriftMeters)
		},
		topics.Steps: func(_ mqtt.Client, msg mqtt.Message) {
			var s publish.StepMessage
			if err := json.Unmarshal(msg.Payload(), &s); err != nil {
				log.Printf("console: step unmarshal error: %v", err)
				return
			}
			fmt.Fprintf(w, "[STEP]  #%d  peak=%.2f calibrating=%t\n", s.StepCount, s.PeakMagnitude, s.Calibrating)
		},
		topics.Progress: func(_ mqtt.Client, msg mqtt.Message) {
			var p route.Progress
			if err := json.Unmarshal(msg.Payload(), &p); err != nil {
				log.Printf("console: navigation unmarshal error: %v", err)
				return
			}
			fmt.Fprintf(w, "[NAV ]  %5.1f%%  remaining=%.0fpx  floor=%s  reached=%t\n",
				p.Percent, p.Remaining, p.Floor, p.DestinationReached)
		},
		topics.Calibration: func(_ mqtt.Client, msg mqtt.Message) {
			var c publish.CalibrationMessage
			if err := json.Unmarshal(msg.Payload(), &c); err != nil {
				log.Printf("console: calibration unmarshal error: %v", err)
				return
			}
			switch c.Kind {
			case "threshold":
				fmt.Fprintf(w, "[CAL ]  threshold=%.2f from %d steps\n", c.Threshold, c.Steps)
			default:
				fmt.Fprintf(w, "[CAL ]  step length=%.3fm from %d steps over %.1fm\n", c.StepLength, c.Steps, c.DistanceMeters)
			}
		},
	}
}

// RunConsoleMQTT prints the tracker topics until interrupted.
func RunConsoleMQTT() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	for topic, handler := range consoleHandlers(os.Stdout, publish.TopicsFromConfig(cfg)) {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", topic)
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
