package main

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/tumorcam/internal/core"
	"github.com/jo-hoe/tumorcam/internal/imaging"
	"github.com/jo-hoe/tumorcam/internal/model"
)

// Context is shared by all subcommands once the root command has loaded the configuration.
type Context struct {
	ConfigPath string
	JSON       bool
	Config     *core.ServiceConfig
}

func defaultConfigPath() string {
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(cwd, "config.yaml")
}

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	ctx := &Context{}

	rootCmd := &cobra.Command{
		Use:           "scanctl",
		Short:         "Classify brain MRI scans from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config, err := core.LoadConfig(ctx.ConfigPath)
			if err != nil {
				return err
			}
			if err := core.ConfigureLogging(config.Log, cmd.ErrOrStderr()); err != nil {
				return err
			}
			ctx.Config = config
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigPath, "config", "c", defaultConfigPath(), "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&ctx.JSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(
		predictCommand(ctx),
		gradcamCommand(ctx),
		modelCommand(ctx),
	)
	return rootCmd
}

func (ctx *Context) loadClassifier() (*model.Classifier, error) {
	modelConfig, err := ctx.Config.Model.ModelConfig()
	if err != nil {
		return nil, err
	}
	return model.Load(modelConfig, nil)
}

// readImage applies the same checks as an upload before decoding.
func (ctx *Context) readImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	validator, err := imaging.NewUploadValidator(ctx.Config.Upload.AllowedExtensions, ctx.Config.Upload.MaxPixels)
	if err != nil {
		return nil, err
	}
	if _, err := validator.Validate(filepath.Base(path), data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
