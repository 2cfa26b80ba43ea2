package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/docseal/internal/flagx"
	"github.com/dmitrijs2005/docseal/internal/server/models"
	"github.com/dmitrijs2005/docseal/internal/timex"
)

// JsonConfig mirrors Config for unmarshalling. Pointer fields distinguish
// "absent" from "zero" so a partial file only overrides what it names.
type JsonConfig struct {
	EndpointAddrHTTP *string `json:"endpoint_addr_http"`
	EndpointAddrGRPC *string `json:"endpoint_addr_grpc"`
	DatabaseDSN      *string `json:"database_dsn"`

	SecretKey                   *string         `json:"secret_key"`
	SigningTokenValidity        *timex.Duration `json:"signing_token_validity"`
	DocumentAccessTokenValidity *timex.Duration `json:"document_access_token_validity"`
	PresignValidity             *timex.Duration `json:"presign_validity"`

	PreviewKey            *string `json:"preview_key"`
	DefaultMaxAccessCount *int    `json:"default_max_access_count"`
	SigningPolicy         *string `json:"signing_policy"`

	KafkaBrokers       []string `json:"kafka_brokers"`
	KafkaOutboundTopic *string  `json:"kafka_outbound_topic"`
	KafkaInboundTopic  *string  `json:"kafka_inbound_topic"`
	KafkaGroupID       *string  `json:"kafka_group_id"`

	S3RootUser     *string `json:"s3_root_user"`
	S3RootPassword *string `json:"s3_root_password"`
	S3Bucket       *string `json:"s3_bucket"`
	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`

	CertificatePath *string `json:"certificate_path"`
	PrivateKeyPath  *string `json:"private_key_path"`
	SealWorkers     *int    `json:"seal_workers"`

	LogLevel *string `json:"log_level"`
}

// parseJson overlays the file named by -c/-config, if any.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.PreviewKey, c.PreviewKey)
	setString(&config.KafkaOutboundTopic, c.KafkaOutboundTopic)
	setString(&config.KafkaInboundTopic, c.KafkaInboundTopic)
	setString(&config.KafkaGroupID, c.KafkaGroupID)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.CertificatePath, c.CertificatePath)
	setString(&config.PrivateKeyPath, c.PrivateKeyPath)
	setString(&config.LogLevel, c.LogLevel)

	if c.SigningTokenValidity != nil {
		config.SigningTokenValidity = c.SigningTokenValidity.Duration
	}
	if c.DocumentAccessTokenValidity != nil {
		config.DocumentAccessTokenValidity = c.DocumentAccessTokenValidity.Duration
	}
	if c.PresignValidity != nil {
		config.PresignValidity = c.PresignValidity.Duration
	}
	if c.DefaultMaxAccessCount != nil {
		config.DefaultMaxAccessCount = *c.DefaultMaxAccessCount
	}
	if c.SealWorkers != nil {
		config.SealWorkers = *c.SealWorkers
	}
	if c.SigningPolicy != nil {
		config.SigningPolicy = models.SigningPolicy(*c.SigningPolicy)
	}
	if c.KafkaBrokers != nil {
		config.KafkaBrokers = c.KafkaBrokers
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
