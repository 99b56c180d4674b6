// pinboard is a command line front end to the community boards. Records
// persist through the selected driver between invocations.
//
//	pinboard [flags] <board> <list|post|delete|update|comment|like> [args]
//	pinboard hash <secret>
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/denismitr/pinboard/internal/config"
	"github.com/denismitr/pinboard/internal/lru"
	"github.com/denismitr/pinboard/internal/storage"
	"github.com/denismitr/pinboard/internal/storage/jsonstorage"
	"github.com/denismitr/pinboard/internal/storage/memdriver"
	"github.com/denismitr/pinboard/internal/storage/sqlitedriver"
	"github.com/denismitr/pinboard/portal"
	"github.com/spf13/pflag"
)

const cacheShards = 8

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	settings, err := config.ParseEnv()
	if err != nil {
		return err
	}

	flagSet := pflag.NewFlagSet("pinboard", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&settings.ConfigFile, "config", settings.ConfigFile, "path to a YAML file with board bindings and role hashes")
	flagSet.StringVar(&settings.Driver, "driver", settings.Driver, "storage driver: memory, json or sqlite")
	flagSet.StringVar(&settings.Path, "path", settings.Path, "file the json or sqlite driver persists to")
	flagSet.StringVar(&settings.Secret, "secret", settings.Secret, "role secret to elevate with")
	flagSet.StringVar(&settings.LogLevel, "log-level", settings.LogLevel, "debug, info, warn or error")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}

	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printHelp(stderr, flagSet)
		return nil
	}

	if err := settings.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: settings.Level()}))
	slog.SetDefault(logger)

	rest := flagSet.Args()
	if rest[0] == "hash" {
		return hashCommand(stdout, rest[1:])
	}

	boards, err := config.LoadFile(settings.ConfigFile)
	if err != nil {
		return err
	}

	driver, err := openDriver(settings)
	if err != nil {
		return err
	}

	cache, err := lru.NewShardedCache(cacheShards, lru.DefaultMaxBytes(), func(key string, _ []byte) {
		logger.Debug("cache evicted", slog.String("key", key))
	})
	if err != nil {
		_ = driver.Close()
		return err
	}

	area := storage.NewArea(driver, storage.WithCache(cache))
	defer func() {
		if err := area.Close(); err != nil {
			logger.Error("could not close storage", slog.String("error", err.Error()))
		}
	}()

	gate, err := portal.NewGate(boards.Roles)
	if err != nil {
		return err
	}

	if settings.Secret != "" {
		role, err := gate.Elevate(settings.Secret)
		if err != nil {
			return err
		}
		logger.Info("elevated", slog.String("role", role.String()))
	}

	p, err := portal.New(area.Open(), gate,
		portal.WithBindings(boards.Bindings),
		portal.WithPalette(boards.Palette...),
		portal.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer p.Close()

	return dispatch(p, stdout, rest)
}

func openDriver(s config.Settings) (storage.Driver, error) {
	switch s.Driver {
	case config.DriverMemory:
		return memdriver.New(), nil
	case config.DriverSQLite:
		return sqlitedriver.Open(s.Path)
	default:
		return jsonstorage.Open(s.Path)
	}
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: pinboard [flags] <board> <command> [args]")
	fmt.Fprintln(w, "       pinboard hash <secret>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "boards:   notices, market, lost, chat")
	fmt.Fprintln(w, "commands: list")
	fmt.Fprintln(w, "          post name=value...")
	fmt.Fprintln(w, "          update <id> name=value...")
	fmt.Fprintln(w, "          delete <id>")
	fmt.Fprintln(w, "          comment <id> <text>")
	fmt.Fprintln(w, "          like <id>        (chat only)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "flags:")
	fmt.Fprint(w, flagSet.FlagUsages())
}
