package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxSetupAttempts bounds how often the wizard restarts on invalid answers.
const maxSetupAttempts = 3

// RunSetupWizard asks for the main settings on in, writes prompts to out and
// saves the result to the config file.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "stepgame setup")
	fmt.Fprintln(out, "Press enter to keep the value in brackets.")

	for attempt := 1; ; attempt++ {
		w.ask(cfg)
		if w.eof {
			return errors.New("setup aborted: input closed")
		}

		result := Validate(cfg)
		for _, wr := range result.Warnings {
			log.Warn().Str("field", wr.Field).Msg(wr.Message)
		}
		if result.IsValid() {
			break
		}

		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if attempt >= maxSetupAttempts || !w.promptBool("Try again?", true) {
			return errors.New("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Fprintf(out, "\nConfiguration saved to %s\n", cfg.Path())
	return nil
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
	eof    bool
}

func (w *wizard) ask(cfg *Config) {
	fmt.Fprintln(w.out, "\n-- Game listener --")
	cfg.Server.ListenAddr = w.promptString("Listen address", cfg.Server.ListenAddr)
	cfg.Server.MaxConnections = w.promptInt("Maximum players", cfg.Server.MaxConnections)

	fmt.Fprintln(w.out, "\n-- Rules --")
	cfg.Game.MaxMove = w.promptInt("Largest move", cfg.Game.MaxMove)
	cfg.Game.BoardSize = w.promptInt("Board size", cfg.Game.BoardSize)
	cfg.Game.RematchPolicy = w.promptString("Rematch starts with (loser, winner, first)", cfg.Game.RematchPolicy)

	fmt.Fprintln(w.out, "\n-- TLS --")
	cfg.TLS.Enabled = w.promptBool("Encrypt player connections", cfg.TLS.Enabled)
	if cfg.TLS.Enabled {
		cfg.TLS.CertFile = w.promptString("Certificate file", cfg.TLS.CertFile)
		cfg.TLS.KeyFile = w.promptString("Key file", cfg.TLS.KeyFile)
		cfg.TLS.GenerateSelfSigned = w.promptBool("Generate a self-signed certificate if missing", cfg.TLS.GenerateSelfSigned)
	}

	fmt.Fprintln(w.out, "\n-- Monitoring --")
	cfg.API.Enabled = w.promptBool("Enable the HTTP API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.ListenAddr = w.promptString("API address", cfg.API.ListenAddr)
	}
	cfg.Storage.Enabled = w.promptBool("Keep match history", cfg.Storage.Enabled)
	cfg.MQTT.Enabled = w.promptBool("Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = w.promptString("MQTT broker", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = w.promptInt("MQTT port", cfg.MQTT.Port)
	}
}

func (w *wizard) readLine() string {
	input, err := w.reader.ReadString('\n')
	if err != nil && input == "" {
		w.eof = true
	}
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	if input := w.readLine(); input != "" {
		return input
	}
	return defaultVal
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)

	input := w.readLine()
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(w.readLine())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
