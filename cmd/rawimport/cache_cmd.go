package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jkazimir/rawimport/pkg/ocicache"
	"github.com/jkazimir/rawimport/pkg/rawimport"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the raw image cache",
}

var cacheLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List cached raw images, plus any --oci registry references",
	RunE:    runCacheLs,
}

var cacheRmCmd = &cobra.Command{
	Use:     "rm <url>",
	Aliases: []string{"remove"},
	Short:   "Remove every cache entry for a url, regardless of ETag",
	Args:    cobra.ExactArgs(1),
	RunE:    runCacheRm,
}

func init() {
	cacheLsCmd.Flags().StringSlice("oci", nil, "OCI reference to resolve and list alongside the raw cache (can be repeated)")
	viper.BindPFlag("cache.ls.oci", cacheLsCmd.Flags().Lookup("oci"))

	cacheCmd.AddCommand(cacheLsCmd)
	cacheCmd.AddCommand(cacheRmCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheLs(cmd *cobra.Command, args []string) error {
	imageRoot := viper.GetString("image-root")

	entries, err := rawimport.ListCache(imageRoot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResolveImageRoot, err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tURL/REF\tETAG/DIGEST\tSIZE\tMODIFIED")
	for _, e := range entries {
		fmt.Fprintf(w, "raw\t%s\t%s\t%.1f MB\t%s\n",
			e.URL, e.ETag, float64(e.Size)/(1024*1024), e.ModTime.Format(time.DateTime))
	}

	ociRefs := viper.GetStringSlice("cache.ls.oci")
	if len(ociRefs) > 0 {
		registryEntries := ocicache.List(ociRefs, func(ref string, err error) {
			log.Warn("failed to resolve oci reference", "ref", ref, "error", err)
		})
		for _, e := range registryEntries {
			fmt.Fprintf(w, "oci\t%s\t%s\t%.1f MB\t%s\n",
				e.Ref, e.Digest, float64(e.Size)/(1024*1024), "-")
		}
	}

	return w.Flush()
}

func runCacheRm(cmd *cobra.Command, args []string) error {
	imageRoot := viper.GetString("image-root")
	url := args[0]

	entries, err := rawimport.ListCache(imageRoot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResolveImageRoot, err)
	}

	removed := 0
	for _, e := range entries {
		if e.URL != url {
			continue
		}
		if err := os.Remove(e.Path); err != nil {
			return fmt.Errorf("remove %s: %w", e.Path, err)
		}
		removed++
	}

	fmt.Fprintf(os.Stdout, "removed %d cache entries for %s\n", removed, url)
	return nil
}
