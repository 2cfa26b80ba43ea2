package config

import (
	"flag"
	"io"
	"strings"

	"github.com/dmitrijs2005/docseal/internal/flagx"
	"github.com/dmitrijs2005/docseal/internal/server/models"
)

// parseFlags overlays the short flags:
//
//	-a  HTTP bind address         -g  gRPC bind address
//	-d  PostgreSQL DSN            -s  token master secret
//	-k  preview key (hex/base64)  -m  default max access count
//	-p  signing policy            -w  sealing workers
//	-b  kafka brokers (comma separated)
//	-l  log level
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-g", "-d", "-s", "-k", "-m", "-p", "-w", "-b", "-l"})

	fs := flag.NewFlagSet("docseal", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "gRPC address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "token master secret")
	fs.StringVar(&config.PreviewKey, "k", config.PreviewKey, "preview AES-256 key")
	fs.IntVar(&config.DefaultMaxAccessCount, "m", config.DefaultMaxAccessCount, "default preview max access count")
	policy := fs.String("p", string(config.SigningPolicy), "signing policy (sequential|parallel)")
	fs.IntVar(&config.SealWorkers, "w", config.SealWorkers, "sealing workers")
	brokers := fs.String("b", strings.Join(config.KafkaBrokers, ","), "kafka brokers")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return err
	}

	config.SigningPolicy = models.SigningPolicy(*policy)
	config.KafkaBrokers = splitList(*brokers)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
