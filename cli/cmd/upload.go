package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/seam/cli/config"
	"github.com/pithecene-io/seam/log"
	"github.com/pithecene-io/seam/store"
)

// UploadCommand returns the upload command.
func UploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a sealed run directory to a storage backend",
		ArgsUsage: "<run-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to seam.yaml (missing file is not an error)",
				Value:   "seam.yaml",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Storage backend: fs or s3",
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "Storage path (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "region",
				Usage: "AWS region for the s3 backend (optional, uses default chain)",
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "Custom S3 endpoint URL for S3-compatible providers",
			},
			&cli.BoolFlag{
				Name:  "path-style",
				Usage: "Force path-style S3 addressing",
			},
		},
		Action: uploadAction,
	}
}

func uploadAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("run-dir required", 1)
	}
	runDir := c.Args().First()

	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("config: %v", err), exitSetupError)
	}

	// Flags win over the config file.
	sc := cfg.Store
	if v := c.String("backend"); v != "" {
		sc.Backend = v
	}
	if v := c.String("path"); v != "" {
		sc.Path = v
	}
	if v := c.String("region"); v != "" {
		sc.Region = v
	}
	if v := c.String("endpoint"); v != "" {
		sc.Endpoint = v
	}
	if c.Bool("path-style") {
		sc.S3PathStyle = true
	}

	if sc.Path == "" {
		return cli.Exit("storage path required (--path or store.path in seam.yaml)", exitSetupError)
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := log.NewLogger(log.RunContext{RunDir: filepath.Base(runDir)})

	var backend store.Store
	var prefix string
	switch sc.Backend {
	case "fs", "":
		backend, err = store.NewFSStore(sc.Path)
	case "s3":
		bucket, p := store.ParseS3Path(sc.Path)
		prefix = p
		backend, err = store.NewS3Store(ctx, store.S3Config{
			Bucket:       bucket,
			Region:       sc.Region,
			Endpoint:     sc.Endpoint,
			UsePathStyle: sc.S3PathStyle,
		})
	default:
		return cli.Exit(fmt.Sprintf("unknown backend: %s (must be fs or s3)", sc.Backend), exitSetupError)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("storage backend: %v", err), exitSetupError)
	}
	defer func() { _ = backend.Close() }()

	count, err := store.NewUploader(backend, prefix, logger).UploadTree(ctx, runDir)
	if err != nil {
		return cli.Exit(fmt.Sprintf("upload failed: %v", err), exitSetupError)
	}

	fmt.Printf("uploaded %d objects from %s\n", count, runDir)
	return nil
}
