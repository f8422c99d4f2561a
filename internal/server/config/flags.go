package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/ishlearn/internal/flagx"
)

// ServerFlags lists the short flags owned by the server config.
var ServerFlags = []string{"-a", "-d", "-s", "-u", "-p", "-b", "-g", "-e", "-n", "-z", "-x"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-n int      parallel parts per upload
//	-z int      multipart part size, MiB
//	-x int      download cache expiration, seconds (0 disables caching)
//
// Arguments not in ServerFlags are ignored, so other flag sets may share
// the command line.
func parseFlags(config *Config, args []string) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.IntVar(&config.UploadConcurrency, "n", config.UploadConcurrency, "parallel parts per upload")

	partSizeMiB := fs.Int64("z", config.UploadPartSize/(1024*1024), "multipart part size (in MiB)")
	cacheSeconds := fs.Int("x", int(config.CacheExpiration.Seconds()), "download cache expiration (in seconds, 0 = no-cache)")

	if err := fs.Parse(flagx.FilterArgs(args, ServerFlags)); err != nil {
		panic(err)
	}

	config.UploadPartSize = *partSizeMiB * 1024 * 1024
	config.CacheExpiration = time.Duration(*cacheSeconds) * time.Second
}
