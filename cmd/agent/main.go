package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "parley-agent",
	Short:        "One participant of a translated peer-to-peer call",
	SilenceUsage: true,
	Long: `parley-agent places or answers a call through a parley signaling server
(or a shared Redis) and relays the local audio through a realtime translation
endpoint. The translated speech is sent to the other participant over the
call's audio track, so each side hears the other in its own language.

Microphone audio is read as raw 24 kHz mono PCM16 LE from --in. The other
participant's audio, already translated into your language, is written in
the same format to --out.`,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	f.StringVarP(&opts.language, "lang", "l", "English", "language you speak")
	f.StringVar(&opts.input, "in", "-", "PCM16 input file, - for stdin")
	f.StringVar(&opts.output, "out", "", "file for the other side's translated audio, - for stdout, empty to discard")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&opts.unpaced, "unpaced", false, "read input as fast as possible instead of in real time")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
