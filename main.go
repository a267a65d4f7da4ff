package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/radyo/internal/app"
	"github.com/petervdpas/radyo/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	dirFlag  = flag.String("dir", ".", "Peer directory holding "+config.FileName)
	verbose  = flag.Bool("v", false, "Debug logging for radyo subsystems")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Usage = showUsage
	flag.Parse()

	if *version {
		fmt.Printf("radyo v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	if err := logging.SetLogLevelRegex("radyo/.*", level); err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}

	command, rest := args[0], args[1:]
	switch command {
	case "caller":
		if len(rest) > 1 {
			usageError("caller takes at most one ringtone name", "radyo caller [ringtone]")
		}
		name := ""
		if len(rest) == 1 {
			name = rest[0]
		}
		run("Caller", func(ctx context.Context, o app.Options) error {
			return app.RunCaller(ctx, o, name)
		})

	case "peer":
		if len(rest) != 1 {
			usageError("peer command requires a call ticket", "radyo peer <ticket>")
		}
		run("Call", func(ctx context.Context, o app.Options) error {
			return app.RunPeer(ctx, o, rest[0])
		})

	case "listen":
		if len(rest) != 1 {
			usageError("listen command requires a file path", "radyo listen <path>")
		}
		run("Share", func(ctx context.Context, o app.Options) error {
			return app.RunShare(ctx, o, rest[0])
		})

	case "connect":
		if len(rest) < 1 || len(rest) > 2 {
			usageError("connect command requires a blob ticket", "radyo connect <ticket> [dest]")
		}
		dest := ""
		if len(rest) == 2 {
			dest = rest[1]
		}
		run("Download", func(ctx context.Context, o app.Options) error {
			return app.RunFetch(ctx, o, rest[0], dest)
		})

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

// run loads the peer directory's config and runs fn until it returns or the
// operator interrupts.
func run(what string, fn func(ctx context.Context, o app.Options) error) {
	absDir, err := filepath.Abs(*dirFlag)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Peer directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, config.FileName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Created default config %s\n", cfgPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	if err := fn(ctx, app.Options{
		PeerDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
		Out:     os.Stdout,
	}); err != nil {
		log.Fatalf("%s failed: %v", what, err)
	}
}

func usageError(msg, usage string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	fmt.Fprintf(os.Stderr, "Usage: %s\n", usage)
	os.Exit(1)
}

func showUsage() {
	fmt.Println("radyo - peer-to-peer ringing and file sharing")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  radyo [options] caller [ringtone]     Wait for calls and ring with the stored ringtone")
	fmt.Println("  radyo [options] peer <ticket>         Call the peer behind a call ticket")
	fmt.Println("  radyo [options] listen <path>         Share a file and print its ticket")
	fmt.Println("  radyo [options] connect <ticket> [dest]")
	fmt.Println("                                        Download a shared file, exporting it to dest")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -dir <path>  Peer directory (default: current directory)")
	fmt.Println("  -v           Debug logging")
	fmt.Println("  -h           Show this help message")
	fmt.Println("  -version     Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  radyo -dir ./peers/alice caller zelda")
	fmt.Println("  radyo -dir ./peers/bob peer call:b...")
	fmt.Println("  radyo listen ./song.mp3")
	fmt.Println("  radyo connect blob:b... ./downloads")
}
