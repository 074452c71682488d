package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jkazimir/rawimport/pkg/rawimport"
)

var pullCmd = &cobra.Command{
	Use:   "pull <url>",
	Short: "Download a disk image and cache it by URL and ETag",
	Long: `Download a disk image from an HTTP(S) url, transparently decompressing
an XZ-compressed stream and converting a QCOW2 container to flat raw
form, caching the result under --image-root.

If the url was already cached under its current ETag, pull reports
success without transferring the image again.`,
	Example: `  rawimport pull https://cloud.example.org/debian-13-generic-amd64.raw.xz
  rawimport pull --local my-vm --force-local https://cloud.example.org/debian-13-generic-amd64.qcow2`,
	Args: cobra.ExactArgs(1),
	RunE: runPull,
}

func init() {
	pullCmd.Flags().String("local", "", "also materialize a writable copy at <image-root>/<local>.raw")
	pullCmd.Flags().Bool("force-local", false, "overwrite an existing local copy (requires --local)")

	viper.BindPFlag("pull.local", pullCmd.Flags().Lookup("local"))
	viper.BindPFlag("pull.force-local", pullCmd.Flags().Lookup("force-local"))

	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	url := args[0]
	local := viper.GetString("pull.local")
	forceLocal := viper.GetBool("pull.force-local")

	if forceLocal && local == "" {
		return fmt.Errorf("%w: --force-local requires --local", rawimport.ErrInvalidArgument)
	}

	imageRoot := viper.GetString("image-root")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := rawimport.NewSession(imageRoot, rawimport.WithLogger(log))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResolveImageRoot, err)
	}
	defer sess.Close()

	if err := sess.EnsureImageRoot(); err != nil {
		return fmt.Errorf("%w: %v", ErrResolveImageRoot, err)
	}

	if err := sess.Pull(ctx, url, rawimport.PullOptions{Local: local, ForceLocal: forceLocal}); err != nil {
		return fmt.Errorf("%w: %v", ErrPullFailed, err)
	}

	select {
	case res := <-sess.Results():
		if res.Err != nil {
			return fmt.Errorf("%w: %v", ErrPullFailed, res.Err)
		}
	case <-ctx.Done():
		return commandExit(130)
	}

	fmt.Fprintf(os.Stdout, "pulled %s\n", url)
	return nil
}
