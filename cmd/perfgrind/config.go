package main

type (
	// ServiceConfig carries the environment-driven settings; flags
	// override the output format. The debug companion search root is
	// deliberately not configurable.
	ServiceConfig struct {
		LogLevel          string `env:"PERFGRIND_LOG_LEVEL" env-default:"info"`
		OutputFormat      string `env:"PERFGRIND_OUTPUT_FORMAT" env-default:"callgrind"`
		ResolverCacheSize int    `env:"PERFGRIND_RESOLVER_CACHE_SIZE" env-default:"64"`
	}
)
