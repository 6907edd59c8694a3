package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/aidledger/aidledger/params"
)

// loadConfig builds the node configuration: defaults, then the optional
// TOML file, then flag overrides, then Sanitize.
func loadConfig(ctx *cli.Context) (*params.Config, error) {
	cfg := params.DefaultConfig()

	if file := ctx.String(configFlag.Name); file != "" {
		if err := applyConfigFile(file, cfg); err != nil {
			return nil, err
		}
	}

	if ctx.IsSet(httpAddrFlag.Name) {
		cfg.HTTPAddr = ctx.String(httpAddrFlag.Name)
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(chainFileFlag.Name) {
		cfg.Persistence.FilePath = ctx.String(chainFileFlag.Name)
	}
	if ctx.IsSet(logLevelFlag.Name) {
		cfg.LogLevel = ctx.String(logLevelFlag.Name)
	}
	if ctx.IsSet(sealFlag.Name) {
		cfg.Consensus.EnableAutomatedBlockCreation = ctx.Bool(sealFlag.Name)
	}
	if ctx.IsSet(validatorPasswordFlag.Name) {
		cfg.Consensus.ValidatorPassword = ctx.String(validatorPasswordFlag.Name)
	}

	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyConfigFile(path string, cfg *params.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewDecoder(bufio.NewReader(f)).Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
