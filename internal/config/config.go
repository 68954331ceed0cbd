package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/sirupsen/logrus"
)

// Backends accepted in POOLMGR_BACKEND.
const (
	BackendEC2   = "ec2"
	BackendSlurm = "slurm"
	BackendLocal = "local"
)

// State backends accepted in POOLMGR_STATE_BACKEND.
const (
	StateFile  = "file"
	StateS3    = "s3"
	StateRedis = "redis"
)

// Config holds all configuration for poolmgr.
type Config struct {
	Port     int
	APIKey   string
	LogLevel string

	Backend string // "ec2", "slurm", "local"

	// Pool limits
	Granularity    int     // units started or stopped together, default 1
	MaxNodes       int     // ceiling on active VM units, default 10
	TasksPerNode   float64 // batch: tasks packed on one node, default 1
	MaxParallelism float64 // batch: ceiling on committed blocksize, default 10

	// Per backend call timeout; 0 disables it.
	CallTimeout time.Duration
	// How long finished units stay queryable after leaving the pool; negative keeps them forever.
	StatusRetention time.Duration

	// State persistence
	StateBackend string // "file", "s3" or "redis"
	StatePath    string // file backend: path of the state document

	// Redis state backend
	RedisURL string
	RedisKey string

	// NATS JetStream for pool events (optional)
	NATSURL string

	// serve: how often the server reconciles unit statuses; 0 disables it.
	RefreshInterval time.Duration

	// S3-compatible object storage for the state document
	S3Endpoint        string
	S3Bucket          string
	S3Key             string
	S3Region          string // defaults to Region if not set
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool // true for MinIO/R2

	// AWS EC2 compute pool
	Region             string
	AWSAccessKeyID     string // empty uses the default credential chain
	AWSSecretAccessKey string
	PoolName           string // tag value on every resource the pool creates
	EC2AMI             string
	EC2InstanceType    string
	EC2KeyName         string // SSH key pair name (for debugging)
	EC2UserDataFile    string // bootstrap script passed to each instance

	// Slurm batch scheduler
	SubmitScriptDir     string
	JobTemplateFile     string // text/template overriding the built-in job script
	Walltime            string // e.g. "01:00:00"
	SchedulerOverrides  string // extra #SBATCH lines, verbatim
	SlurmCommandTimeout time.Duration

	// AWS Secrets Manager: if set, secrets are fetched at startup using IAM credentials.
	// The secret should be a JSON object with keys matching env var names (e.g. POOLMGR_API_KEY).
	// Env vars take precedence over secret values (for local overrides).
	SecretsARN string
}

// Load reads configuration from environment variables with sensible defaults.
// If POOLMGR_SECRETS_ARN is set, secrets are fetched from AWS Secrets Manager
// first, then environment variables are applied on top (env vars take precedence).
func Load() (*Config, error) {
	if arn := os.Getenv("POOLMGR_SECRETS_ARN"); arn != "" {
		if err := loadSecretsManager(arn); err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
	}

	cfg := &Config{
		Port:     8080,
		APIKey:   os.Getenv("POOLMGR_API_KEY"),
		LogLevel: envOrDefault("POOLMGR_LOG_LEVEL", "info"),
		Backend:  envOrDefault("POOLMGR_BACKEND", BackendLocal),

		Granularity:    envOrDefaultInt("POOLMGR_GRANULARITY", 1),
		MaxNodes:       envOrDefaultInt("POOLMGR_MAX_NODES", 10),
		TasksPerNode:   envOrDefaultFloat("POOLMGR_TASKS_PER_NODE", 1),
		MaxParallelism: envOrDefaultFloat("POOLMGR_MAX_PARALLELISM", 10),
		CallTimeout:    envOrDefaultDuration("POOLMGR_CALL_TIMEOUT", 2*time.Minute),

		StatusRetention: envOrDefaultDuration("POOLMGR_STATUS_RETENTION", 24*time.Hour),

		StateBackend: envOrDefault("POOLMGR_STATE_BACKEND", StateFile),
		StatePath:    envOrDefault("POOLMGR_STATE_PATH", "poolmgr_state.json"),

		RedisURL: os.Getenv("POOLMGR_REDIS_URL"),
		RedisKey: envOrDefault("POOLMGR_REDIS_KEY", "poolmgr:state"),

		NATSURL:         os.Getenv("POOLMGR_NATS_URL"),
		RefreshInterval: envOrDefaultDuration("POOLMGR_REFRESH_INTERVAL", 30*time.Second),

		S3Endpoint:        os.Getenv("POOLMGR_S3_ENDPOINT"),
		S3Bucket:          os.Getenv("POOLMGR_S3_BUCKET"),
		S3Key:             envOrDefault("POOLMGR_S3_KEY", "poolmgr/state.json"),
		S3Region:          os.Getenv("POOLMGR_S3_REGION"),
		S3AccessKeyID:     os.Getenv("POOLMGR_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("POOLMGR_S3_SECRET_ACCESS_KEY"),
		S3ForcePathStyle:  os.Getenv("POOLMGR_S3_FORCE_PATH_STYLE") == "true",

		Region:             envOrDefault("POOLMGR_REGION", "us-east-2"),
		AWSAccessKeyID:     os.Getenv("POOLMGR_AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("POOLMGR_AWS_SECRET_ACCESS_KEY"),
		PoolName:           envOrDefault("POOLMGR_POOL_NAME", "poolmgr"),
		EC2AMI:             os.Getenv("POOLMGR_EC2_AMI"),
		EC2InstanceType:    envOrDefault("POOLMGR_EC2_INSTANCE_TYPE", "t3.micro"),
		EC2KeyName:         os.Getenv("POOLMGR_EC2_KEY_NAME"),
		EC2UserDataFile:    os.Getenv("POOLMGR_EC2_USER_DATA_FILE"),

		SubmitScriptDir:     envOrDefault("POOLMGR_SUBMIT_SCRIPT_DIR", "submit_scripts"),
		JobTemplateFile:     os.Getenv("POOLMGR_JOB_TEMPLATE_FILE"),
		Walltime:            os.Getenv("POOLMGR_WALLTIME"),
		SchedulerOverrides:  os.Getenv("POOLMGR_SCHEDULER_OVERRIDES"),
		SlurmCommandTimeout: envOrDefaultDuration("POOLMGR_SLURM_COMMAND_TIMEOUT", 10*time.Second),

		SecretsARN: os.Getenv("POOLMGR_SECRETS_ARN"),
	}

	// Default S3 region to the pool region for same-region storage
	if cfg.S3Region == "" {
		cfg.S3Region = cfg.Region
	}

	if portStr := os.Getenv("POOLMGR_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid POOLMGR_PORT %q: %w", portStr, err)
		}
		cfg.Port = port
	}

	return cfg, nil
}

// Validate checks the values Load cannot check one at a time.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendEC2, BackendSlurm, BackendLocal:
	default:
		return fmt.Errorf("config: unknown backend %q (want ec2, slurm or local)", c.Backend)
	}
	switch c.StateBackend {
	case StateFile:
		if c.StatePath == "" {
			return fmt.Errorf("config: POOLMGR_STATE_PATH is required for the file state backend")
		}
	case StateS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("config: POOLMGR_S3_BUCKET is required for the s3 state backend")
		}
	case StateRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("config: POOLMGR_REDIS_URL is required for the redis state backend")
		}
	default:
		return fmt.Errorf("config: unknown state backend %q (want file, s3 or redis)", c.StateBackend)
	}

	if c.Granularity < 1 {
		return fmt.Errorf("config: granularity must be at least 1, got %d", c.Granularity)
	}
	if c.MaxNodes < 0 {
		return fmt.Errorf("config: max nodes must not be negative, got %d", c.MaxNodes)
	}
	if c.TasksPerNode <= 0 {
		return fmt.Errorf("config: tasks per node must be positive, got %v", c.TasksPerNode)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("config: refresh interval must not be negative, got %v", c.RefreshInterval)
	}
	if c.Backend == BackendEC2 && c.EC2AMI == "" {
		return fmt.Errorf("config: POOLMGR_EC2_AMI is required for the ec2 backend")
	}
	return nil
}

// UserData reads the instance bootstrap script, if one is configured.
func (c *Config) UserData() (string, error) {
	if c.EC2UserDataFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.EC2UserDataFile)
	if err != nil {
		return "", fmt.Errorf("config: read user data: %w", err)
	}
	return string(data), nil
}

// JobTemplate reads the job script template, if one is configured.
func (c *Config) JobTemplate() (string, error) {
	if c.JobTemplateFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.JobTemplateFile)
	if err != nil {
		return "", fmt.Errorf("config: read job template: %w", err)
	}
	return string(data), nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// loadSecretsManager fetches a JSON secret from AWS Secrets Manager and sets
// any values as environment variables (only if not already set, so explicit
// env vars always win). Uses the default AWS credential chain (IAM instance
// profile on EC2, or ~/.aws/credentials locally).
func loadSecretsManager(arn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Extract region from ARN: arn:aws:secretsmanager:REGION:ACCOUNT:secret:NAME
	var opts []func(*awsconfig.LoadOptions) error
	if parts := strings.Split(arn, ":"); len(parts) >= 4 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return fmt.Errorf("GetSecretValue: %w", err)
	}

	if result.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", arn)
	}

	applied, total, err := applySecrets(*result.SecretString)
	if err != nil {
		return err
	}
	logrus.Infof("config: loaded %d secrets from Secrets Manager (%d keys in secret, env overrides take precedence)", applied, total)
	return nil
}

// applySecrets sets each key of a JSON object secret as an env var unless
// the variable is already set.
func applySecrets(secretJSON string) (applied, total int, err error) {
	var secrets map[string]string
	if err := json.Unmarshal([]byte(secretJSON), &secrets); err != nil {
		return 0, 0, fmt.Errorf("parse secret JSON: %w", err)
	}

	for key, value := range secrets {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			applied++
		}
	}
	return applied, len(secrets), nil
}
