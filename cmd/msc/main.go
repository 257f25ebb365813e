// Command msc is the command-line entry point: msc <command> [args].
// Supported commands are "help" and "sync".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/objectfs/msc/pkg/client"
	"github.com/objectfs/msc/pkg/config"
	"github.com/objectfs/msc/pkg/msurl"

	// Register every storage backend with the provider registry.
	_ "github.com/objectfs/msc/pkg/storage/ais"
	_ "github.com/objectfs/msc/pkg/storage/azure"
	_ "github.com/objectfs/msc/pkg/storage/gcs"
	_ "github.com/objectfs/msc/pkg/storage/oci"
	_ "github.com/objectfs/msc/pkg/storage/posix"
	_ "github.com/objectfs/msc/pkg/storage/s3"
)

// Exit codes: 0 success, 1 failure, 2 argument error.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const usage = `Usage: msc <command> [arguments]

Commands:
  help                       Show this help.
  sync [flags] <source_url> <target_url>
                             Make the target match the source. URLs are
                             msc://<profile>/<path>, file://<path>, or a
                             bare absolute path.

Sync flags:
  --delete-unmatched-files   Remove target objects absent from the source.
  --verbose                  Print one line per transferred object.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	switch args[0] {
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	case "sync":
		return runSync(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "msc: unknown command %q\n\n", args[0])
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
}

func runSync(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	deleteUnmatched := fs.Bool("delete-unmatched-files", false, "remove target objects absent from the source")
	verbose := fs.Bool("verbose", false, "print one line per transferred object")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(stderr, "msc sync: expected <source_url> <target_url>")
		return exitUsage
	}

	source, err := msurl.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "msc sync: %v\n", err)
		return exitUsage
	}
	target, err := msurl.Parse(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(stderr, "msc sync: %v\n", err)
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		if !errors.Is(err, config.ErrNoConfig) {
			fmt.Fprintf(stderr, "msc sync: loading configuration: %v\n", err)
			return exitError
		}
		// No config file: bare paths and file:// URLs still work against
		// the synthesized default profile.
		cfg = config.Empty()
	}

	ctx := context.Background()
	sourceClient, err := clientFor(ctx, cfg, source)
	if err != nil {
		fmt.Fprintf(stderr, "msc sync: source %s: %v\n", fs.Arg(0), err)
		return exitError
	}
	targetClient, err := clientFor(ctx, cfg, target)
	if err != nil {
		fmt.Fprintf(stderr, "msc sync: target %s: %v\n", fs.Arg(1), err)
		return exitError
	}

	opts := client.SyncOptions{
		DeleteUnmatched: *deleteUnmatched,
		Workers:         cfg.Runtime.MaxWorkers,
	}
	if *verbose {
		opts.Progress = func(action, key string) {
			fmt.Fprintf(stdout, "%s %s\n", action, key)
		}
	}

	result, err := client.Sync(ctx, sourceClient, targetClient, opts)
	if err != nil {
		fmt.Fprintf(stderr, "msc sync: %v\n", err)
		return exitError
	}
	fmt.Fprintf(stdout, "synced: %d copied (%d bytes), %d skipped, %d deleted\n",
		result.Copied, result.BytesCopied, result.Skipped, result.Deleted)
	return exitOK
}

// clientFor builds a client for ref's profile, scoped to ref.Path by
// treating the path as a listing/transfer prefix through a sub-rooted
// provider where one is configured.
func clientFor(ctx context.Context, cfg *config.Config, ref msurl.Reference) (*client.Client, error) {
	scoped := scopeProfile(cfg, ref)
	return client.FromConfig(ctx, scoped, ref.Profile)
}

// scopeProfile narrows ref's profile so its base_path includes
// ref.Path; sync then operates on the whole (scoped) namespace.
func scopeProfile(cfg *config.Config, ref msurl.Reference) *config.Config {
	if ref.Path == "" {
		return cfg
	}
	profile, ok := cfg.Profiles[ref.Profile]
	if !ok || profile.StorageProvider == nil {
		if ref.Profile != msurl.DefaultProfile {
			return cfg
		}
		profile = config.Profile{
			StorageProvider: &config.NamedConfig{
				Type:    "file",
				Options: map[string]interface{}{"base_path": "/"},
			},
		}
	}

	options := make(map[string]interface{}, len(profile.StorageProvider.Options)+1)
	for k, v := range profile.StorageProvider.Options {
		options[k] = v
	}
	base, _ := options["base_path"].(string)
	options["base_path"] = joinBase(base, ref.Path)
	scopedProfile := profile
	scopedProfile.StorageProvider = &config.NamedConfig{
		Type:    profile.StorageProvider.Type,
		Options: options,
	}

	scoped := *cfg
	scoped.Profiles = make(map[string]config.Profile, len(cfg.Profiles)+1)
	for name, p := range cfg.Profiles {
		scoped.Profiles[name] = p
	}
	scoped.Profiles[ref.Profile] = scopedProfile
	return &scoped
}

func joinBase(base, p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	if base == "" {
		return p
	}
	if base[len(base)-1] == '/' {
		return base + p
	}
	return base + "/" + p
}
