package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kxvfs/convergefs"
)

var rootCmd = &cobra.Command{
	Use:   "convergefs",
	Short: "mounts a Windows-style overlay filesystem over ordered layers",
	RunE:  rootCmdRunE,
	Args:  cobra.NoArgs,
}

type rootCmdFlags struct {
	MountPoint  string
	WorkDir     string
	WriteTarget string
	ImageRef    string
	Layers      []string
	AllowOther  bool
}

var rootFlags = &rootCmdFlags{}

func main() {
	initLogging()

	rootCmd.Flags().StringVarP(&rootFlags.MountPoint, "mountpoint", "m", "", "directory to mount the overlay at")
	rootCmd.Flags().StringVarP(&rootFlags.WorkDir, "workdir", "w", filepath.Join(os.TempDir(), "convergefs"), "work directory for the OCI layer cache and default mount points")
	rootCmd.Flags().StringVarP(&rootFlags.WriteTarget, "write-target", "W", "", "real directory every write lands in")
	rootCmd.Flags().StringVarP(&rootFlags.ImageRef, "image", "i", "", "OCI image reference to use as the base layer")
	rootCmd.Flags().StringSliceVarP(&rootFlags.Layers, "layer", "l", nil, "extra backing directory, ascending priority (repeatable)")
	rootCmd.Flags().BoolVar(&rootFlags.AllowOther, "allow-other", false, "pass allow_other to the FUSE mount")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("failed to execute", "error", err)
		os.Exit(1)
	}
}

func rootCmdRunE(cmd *cobra.Command, args []string) error {
	svc, err := convergefs.New(
		convergefs.WithWorkDir(rootFlags.WorkDir),
		convergefs.WithEnableDefaultKeychain(),
	)
	if err != nil {
		return err
	}

	mountOpts := []convergefs.MountOption{
		convergefs.MountWithTargetPath(rootFlags.MountPoint),
		convergefs.MountWithExtraLayers(rootFlags.Layers),
	}
	if rootFlags.WriteTarget != "" {
		mountOpts = append(mountOpts, convergefs.MountWithWriteTarget(rootFlags.WriteTarget))
	}
	if rootFlags.ImageRef != "" {
		mountOpts = append(mountOpts, convergefs.MountWithImageRef(rootFlags.ImageRef))
	}
	if rootFlags.AllowOther {
		mountOpts = append(mountOpts, convergefs.MountWithAllowOther())
	}

	m, err := svc.Mount(mountOpts...)
	if err != nil {
		slog.Error("mount failed", "error", err)
		return err
	}
	slog.Info("mounted", "mountpoint", m.MountPoint())

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		for range c {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := m.Unmount(ctx)
			cancel()
			if err == nil {
				return
			}
			slog.Error("unmount failed", "error", err)
		}
	}()

	m.Wait()
	return nil
}

// initLogging configures the global slog logger based on an environment variable.
func initLogging() {
	logLevel := slog.LevelError
	switch strings.ToLower(os.Getenv("CONVERGEFS_LOG_LEVEL")) {
	case "info":
		logLevel = slog.LevelInfo
	case "debug":
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}
