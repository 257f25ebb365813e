// Package s3 implements the storage.Delegate contract over Amazon S3 and
// S3-compatible endpoints (S8K's legacy-retry variant included), using the
// AWS SDK v2 client and, above the multipart threshold, cargoship's
// optimized transporter.
package s3

import (
	"github.com/objectfs/msc/pkg/storage"
)

// Config configures an S3 (or S8K) provider. Region and the various
// endpoint-shaping flags map directly onto s3.Options; credentials, when
// set, are supplied as static values rather than through the SDK's
// default provider chain.
type Config struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool
	UseAccelerate  bool
	UseDualStack   bool

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// MaxRetries is passed to the AWS SDK's own retry layer. msc's
	// pkg/retry only sees what crosses the Provider boundary as
	// errors.KindRetryable; SDK-level retries happen first and are
	// invisible to it.
	MaxRetries int

	// PoolSize bounds how many concurrent API calls the provider issues
	// through its connection pool.
	PoolSize int

	// EnableTransportOptimization routes UploadFile above Multipart's
	// threshold through cargoship's transporter instead of a single
	// PutObject.
	EnableTransportOptimization bool

	Multipart storage.MultipartConfig

	// LegacyRetryMode marks an S8K-flavored provider: the operation
	// contract is identical, but the provider registers under "s8k" and
	// reports that name from Name().
	LegacyRetryMode bool
}

// DefaultConfig returns the defaults every field falls back to when left
// zero-valued.
func DefaultConfig() Config {
	return Config{
		Region:     "us-east-1",
		MaxRetries: 3,
		PoolSize:   8,
		Multipart:  storage.DefaultMultipartConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	if c.Multipart.ThresholdBytes <= 0 {
		c.Multipart = storage.DefaultMultipartConfig()
	}
	return c
}
