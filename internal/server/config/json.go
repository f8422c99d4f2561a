package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/ishlearn/internal/flagx"
	"github.com/dmitrijs2005/ishlearn/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Pointer fields let a
// file override only what it mentions; durations accept "1m" or nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP  *string         `json:"endpoint_addr_http"`
	DatabaseDSN       *string         `json:"database_dsn"`
	SecretKey         *string         `json:"secret_key"`
	S3RootUser        *string         `json:"s3_root_user"`
	S3RootPassword    *string         `json:"s3_root_password"`
	S3Bucket          *string         `json:"s3_bucket"`
	S3Region          *string         `json:"s3_region"`
	S3BaseEndpoint    *string         `json:"s3_base_endpoint"`
	S3UsePathStyle    *bool           `json:"s3_use_path_style"`
	UploadPartSize    *int64          `json:"upload_part_size"`
	UploadConcurrency *int            `json:"upload_concurrency"`
	MaxUploadSize     *int64          `json:"max_upload_size"`
	CacheExpiration   *timex.Duration `json:"cache_expiration"`
	StreamTags        *bool           `json:"stream_tags"`
	CompensateOrphans *bool           `json:"compensate_orphans"`
	PendingEvents     *int            `json:"pending_events"`
	EnableCORS        *bool           `json:"enable_cors"`
}

// parseJson overlays values from the file named by -c/-config onto config.
// Without the flag nothing is loaded. An unreadable file or invalid JSON
// panics: a server started with a broken config must not come up.
func parseJson(config *Config, args []string) {
	path := flagx.JsonConfigFlags(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setIf(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setIf(&config.DatabaseDSN, c.DatabaseDSN)
	setIf(&config.SecretKey, c.SecretKey)
	setIf(&config.S3RootUser, c.S3RootUser)
	setIf(&config.S3RootPassword, c.S3RootPassword)
	setIf(&config.S3Bucket, c.S3Bucket)
	setIf(&config.S3Region, c.S3Region)
	setIf(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setIf(&config.S3UsePathStyle, c.S3UsePathStyle)
	setIf(&config.UploadPartSize, c.UploadPartSize)
	setIf(&config.UploadConcurrency, c.UploadConcurrency)
	setIf(&config.MaxUploadSize, c.MaxUploadSize)
	setIf(&config.StreamTags, c.StreamTags)
	setIf(&config.CompensateOrphans, c.CompensateOrphans)
	setIf(&config.PendingEvents, c.PendingEvents)
	setIf(&config.EnableCORS, c.EnableCORS)
	if c.CacheExpiration != nil {
		config.CacheExpiration = c.CacheExpiration.Duration
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
