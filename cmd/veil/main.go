// Package main provides the veil command line: manage anti-detect browser
// profiles and launch them with persistent fingerprints.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/entrhq/veil/pkg/proxy"
)

const version = "0.1.0" // Version of the veil CLI

// CLI is the root command.
type CLI struct {
	ConfigPath string           `name:"config" short:"c" help:"Configuration file path (.yaml/.yml or JSON); defaults to ~/.veil/config.yaml" type:"path"`
	DataDir    string           `short:"d" help:"Directory for profiles, fingerprints and logs; defaults to ~/.veil" type:"path" env:"VEIL_DATA_DIR"`
	Verbose    bool             `short:"v" help:"Enable debug logging"`
	Version    kong.VersionFlag `name:"version" help:"Show version and exit"`

	Profile     ProfileCmd     `cmd:"" help:"Create, list, edit and remove profiles"`
	Run         RunCmd         `cmd:"" help:"Launch profiles and supervise them until they close"`
	Fingerprint FingerprintCmd `cmd:"" help:"Inspect or regenerate a profile's persisted fingerprint"`
	Proxy       ProxyCmd       `cmd:"" help:"Proxy utilities"`
	Geo         GeoCmd         `cmd:"" help:"Show the egress location, optionally through a proxy"`
	Config      ConfigCmd      `cmd:"" help:"Show or initialize the configuration file"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("veil"),
		kong.Description("Anti-detect browser profile launcher."),
		kong.UsageOnError(),
		kong.Vars{
			"version":  version,
			"ping_url": proxy.DefaultPingURL,
		},
	)

	app, err := newApp(&cli, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "veil: %v\n", err)
		os.Exit(1)
	}

	err = kctx.Run(app)
	if cerr := app.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "veil: %v\n", cerr)
	}
	kctx.FatalIfErrorf(err)
}
