package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arthurfait/perfgrind/internal/callgrind"
	"github.com/arthurfait/perfgrind/internal/logutil"
	"github.com/arthurfait/perfgrind/internal/pprofutil"
	"github.com/arthurfait/perfgrind/internal/profile"
	"github.com/arthurfait/perfgrind/internal/resolver"
	"github.com/arthurfait/perfgrind/internal/storageutil"
)

func main() {
	var (
		outputPath string
		format     string
		flat       bool
		verbose    bool
	)
	flag.StringVar(&outputPath, "o", "", "output `file` (default stdout; required for json)")
	flag.StringVar(&format, "f", "", "output `format`: callgrind, pprof or json")
	flag.BoolVar(&flat, "flat", false, "aggregate samples only, skip the call graph")
	flag.BoolVar(&verbose, "v", false, "enable debug logging")
	flag.Parse()

	var config ServiceConfig
	if err := cleanenv.ReadEnv(&config); err != nil {
		fmt.Fprintf(os.Stderr, "error reading environment config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	logutil.ConfigureLogger(level)

	if format == "" {
		format = config.OutputFormat
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: perfgrind [flags] <input>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	input, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("can't open input")
	}
	defer input.Close()

	mode := profile.CallGraph
	if flat {
		mode = profile.Flat
	}

	p := profile.New()
	if err := p.Load(input, mode); err != nil {
		log.Warn().Err(err).Msg("event stream ended with an error, continuing with partial data")
	}

	cache, err := resolver.NewCache(config.ResolverCacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("can't create resolver cache")
	}
	p.Symbolize(cache.Open)
	p.FixupBranches()

	log.Info().
		Uint64("mmap_events", p.MmapEventCount()).
		Uint64("good_samples", p.GoodSamplesCount()).
		Uint64("bad_samples", p.BadSamplesCount()).
		Msg("profile aggregated")

	if err := writeOutput(p, format, outputPath); err != nil {
		log.Fatal().Err(err).Str("format", format).Msg("can't write output")
	}
}

func writeOutput(p *profile.Profile, format, outputPath string) error {
	switch format {
	case "callgrind", "pprof":
		w := os.Stdout
		if outputPath != "" {
			f, err := os.Create(outputPath)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if format == "callgrind" {
			return callgrind.Write(w, p)
		}
		return pprofutil.Write(w, p)
	case "json":
		if outputPath == "" {
			return errors.New("json output requires -o")
		}
		store := storageutil.NewFileStore(filepath.Dir(outputPath))
		return store.WriteCompressed(filepath.Base(outputPath), buildReport(p))
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
