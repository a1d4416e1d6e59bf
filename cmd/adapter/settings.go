package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/Alia5/VIIPER/apiclient"
)

// SettingsCmd dumps the running adapter's settings journal over the API
// connection, the local client-side counterpart to handler.SettingsGet.
type SettingsCmd struct {
	Dump SettingsDumpCmd `cmd:"" default:"1" help:"Print the active settings journal record"`
}

// SettingsDumpCmd fetches settings/get and prints it, indenting the JSON
// when stdout is an interactive terminal and leaving it compact otherwise
// so piping into jq or a log file gets one line per dump.
type SettingsDumpCmd struct {
	Addr string `help:"Adapter API server address" default:"127.0.0.1:3242" env:"VIIPER_API_ADDR"`
}

func (c *SettingsDumpCmd) Run(logger *slog.Logger) error {
	client := apiclient.New(c.Addr)
	rec, err := client.SettingsGet()
	if err != nil {
		return fmt.Errorf("settings dump: %w", err)
	}

	var out []byte
	if term.IsTerminal(int(os.Stdout.Fd())) {
		out, err = json.MarshalIndent(rec, "", "  ")
	} else {
		out, err = json.Marshal(rec)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
