// Command adapter is the controller adapter's single entrypoint: it wires
// the input registry, router, profile service, player managers, feedback
// hub, settings journal and scheduling harness into a running process, and
// exposes the teacher's USB/IP control plane (internal/server/usb,
// internal/server/api) for the virtual USB_DEVICE bus. It replaces the
// broken cmd/viiper binary, which depended on an internal/config package
// that was never part of this module (see DESIGN.md).
package main

import (
	"os"
	"strings"

	"github.com/Alia5/VIIPER/internal/configpaths"
	"github.com/Alia5/VIIPER/internal/log"

	_ "github.com/Alia5/VIIPER/internal/registry" // registers every USB/IP device handler

	_ "github.com/Alia5/VIIPER/input/hid"    // registers input driver factories
	_ "github.com/Alia5/VIIPER/input/native" // registers input driver factories
	_ "github.com/Alia5/VIIPER/input/xinput" // registers input driver factories
	_ "github.com/Alia5/VIIPER/output/hid"   // registers output sink factories
	_ "github.com/Alia5/VIIPER/output/maple" // registers output sink factories
	_ "github.com/Alia5/VIIPER/output/neogeo" // registers output sink factories

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
)

// CLI is the root command set. Run is the adapter's primary job; Proxy
// keeps the teacher's USB/IP debugging proxy available for capturing
// traffic between a real client and this adapter's bus; Settings inspects
// a running adapter's settings journal over the API connection.
type CLI struct {
	Log struct {
		Level   string `help:"Log level: trace,debug,info,warn,error" default:"info" env:"VIIPER_LOG_LEVEL"`
		File    string `help:"Log file path (empty logs to stderr only)" env:"VIIPER_LOG_FILE"`
		RawFile string `help:"Raw wire-trace log file path" env:"VIIPER_LOG_RAW_FILE"`
	} `embed:"" prefix:"log."`

	Run      RunCmd      `cmd:"" default:"1" help:"Run the controller adapter"`
	Proxy    Proxy       `cmd:"" help:"Run a debugging proxy in front of an upstream USB/IP server"`
	Settings SettingsCmd `cmd:"" help:"Inspect a running adapter's settings journal"`
}

func main() {
	userCfg := findUserConfig(os.Args[1:])
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths(userCfg)

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("viiper-adapter"),
		kong.Description("Multi-protocol controller adapter"),
		kong.UsageOnError(),
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closeFiles, err := log.SetupLogger(cli.Log.Level, cli.Log.File)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	var rawLogger log.RawLogger
	if cli.Log.RawFile != "" {
		f, err := os.OpenFile(cli.Log.RawFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Error("failed to open raw log file", "file", cli.Log.RawFile, "error", err)
			rawLogger = log.NewRaw(nil)
		} else {
			rawLogger = log.NewRaw(f)
			closeFiles = append(closeFiles, f)
		}
	} else if cli.Log.Level == "trace" {
		rawLogger = log.NewRaw(os.Stdout)
	} else {
		rawLogger = log.NewRaw(nil)
	}

	ctx.Bind(logger)
	ctx.BindTo(rawLogger, (*log.RawLogger)(nil))

	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}

func findUserConfig(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--config=") {
			return a[len("--config="):]
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if v := os.Getenv("VIIPER_CONFIG"); v != "" {
		return v
	}
	return ""
}
