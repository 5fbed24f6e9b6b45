package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/validator"
)

type BackendKind string

const (
	BackendPlaceholder BackendKind = "placeholder"
	BackendRemote      BackendKind = "remote"
)

type MirrorKind string

const (
	MirrorNone  MirrorKind = "none"
	MirrorMinio MirrorKind = "minio"
	MirrorAzure MirrorKind = "azure"
)

type StorageConfig struct {
	ModelsDir    string `mapstructure:"models_dir"    validate:"required"`
	UploadsDir   string `mapstructure:"uploads_dir"   validate:"required"`
	GeneratedDir string `mapstructure:"generated_dir" validate:"required"`
	WorkDir      string `mapstructure:"work_dir"      validate:"required"`
}

type BackendConfig struct {
	Kind BackendKind `mapstructure:"kind" validate:"required,oneof=placeholder remote"`
	// Base URL of the diffusion worker, only used by the remote backend
	URL            string        `mapstructure:"url"             validate:"required_if=Kind remote"`
	StepDelay      time.Duration `mapstructure:"step_delay"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type SlogConfig struct {
	Level int `mapstructure:"level"`
}

type GormLogConfig struct {
	Level        int  `mapstructure:"level"`
	TraceQueries bool `mapstructure:"trace_queries"`
}

type LoggingConfig struct {
	Gorm    GormLogConfig `mapstructure:"gorm"`
	App     SlogConfig    `mapstructure:"app"`
	UseOTLP bool          `mapstructure:"use_otlp"`
	// Fraction of traces kept, 0 or 1 keeps all
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio" validate:"gte=0,lte=1"`
}

type RateLimitConfig struct {
	RedisHost         string `mapstructure:"redis_host"`
	TrainPerMinute    int64  `mapstructure:"train_per_minute"`
	GeneratePerMinute int64  `mapstructure:"generate_per_minute"`
	FailOpen          bool   `mapstructure:"fail_open"`
}

type MinioConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	SSLEnabled      bool   `mapstructure:"ssl_enabled"`
}

type AzureStorageConfig struct {
	Name       string `mapstructure:"name"`
	Key        string `mapstructure:"key"`
	ServiceURL string `mapstructure:"service_url"`
	Container  string `mapstructure:"container"`
}

type MirrorConfig struct {
	Kind       MirrorKind         `mapstructure:"kind"        validate:"required,oneof=none minio azure"`
	Minio      MinioConfig        `mapstructure:"minio"`
	Azure      AzureStorageConfig `mapstructure:"azure"`
	PresignTTL time.Duration      `mapstructure:"presign_ttl"`
}

type EventsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Name     string `mapstructure:"name"      validate:"required_if=Enabled true"`
	Key      string `mapstructure:"key"       validate:"required_if=Enabled true"`
	QueueURL string `mapstructure:"queue_url" validate:"required_if=Enabled true"`
	Queue    string `mapstructure:"queue"     validate:"required_if=Enabled true"`
}

type PostgresConfig struct {
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	Host               string        `mapstructure:"host"`
	Database           string        `mapstructure:"database"`
	MaxIdleConnections int           `mapstructure:"max_idle_connections"`
	MaxOpenConnections int           `mapstructure:"max_open_connections"`
	ConnectionTTL      time.Duration `mapstructure:"connection_ttl"`
	Port               int16         `mapstructure:"port"`
}

type HistoryConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// See loraapi.yaml for an example config
type Config struct {
	Storage              *StorageConfig   `mapstructure:"storage"                validate:"required"`
	Backend              *BackendConfig   `mapstructure:"backend"                validate:"required"`
	Logging              *LoggingConfig   `mapstructure:"logging"                validate:"required"`
	RateLimit            *RateLimitConfig `mapstructure:"ratelimit"`
	Mirror               *MirrorConfig    `mapstructure:"mirror"                 validate:"required"`
	Events               *EventsConfig    `mapstructure:"events"`
	History              *HistoryConfig   `mapstructure:"history"`
	BaseModel            string           `mapstructure:"base_model"             validate:"required"`
	ListenAddress        string           `mapstructure:"listen_address"         validate:"required"`
	GracefulShutdownSecs int64            `mapstructure:"graceful_shutdown_secs"`
}

const (
	AppLogLevel             string = "logging.app.level"
	BackendKindKey          string = "backend.kind"
	BackendPollInterval     string = "backend.poll_interval"
	BackendRequestTimeout   string = "backend.request_timeout"
	BackendStepDelay        string = "backend.step_delay"
	BackendURL              string = "backend.url"
	BaseModel               string = "base_model"
	EnvPrefix               string = "loraapi"
	EventsEnabled           string = "events.enabled"
	EventsKey               string = "events.key"
	GeneratePerMinute       string = "ratelimit.generate_per_minute"
	GormLogLevel            string = "logging.gorm.level"
	GormTraceQueries        string = "logging.gorm.trace_queries"
	GracefulShutdownSecs    string = "graceful_shutdown_secs"
	HistoryEnabled          string = "history.enabled"
	ListenAddress           string = "listen_address"
	MirrorAzureKey          string = "mirror.azure.key"
	MirrorKindKey           string = "mirror.kind"
	MirrorMinioAccessKeyID  string = "mirror.minio.access_key_id"
	MirrorMinioSecretKey    string = "mirror.minio.secret_access_key" // #nosec
	MirrorMinioSSLEnabled   string = "mirror.minio.ssl_enabled"
	MirrorPresignTTL        string = "mirror.presign_ttl"
	PostgresConnectionTTL   string = "history.postgres.connection_ttl"
	PostgresHost            string = "history.postgres.host"
	PostgresMaxIdle         string = "history.postgres.max_idle_connections"
	PostgresMaxOpen         string = "history.postgres.max_open_connections"
	PostgresPassword        string = "history.postgres.password"
	PostgresPort            string = "history.postgres.port"
	RateLimitFailOpen       string = "ratelimit.fail_open"
	RedisHost               string = "ratelimit.redis_host"
	StorageGeneratedDir     string = "storage.generated_dir"
	StorageModelsDir        string = "storage.models_dir"
	StorageUploadsDir       string = "storage.uploads_dir"
	StorageWorkDir          string = "storage.work_dir"
	TraceSampleRatio        string = "logging.trace_sample_ratio"
	TrainPerMinute          string = "ratelimit.train_per_minute"
	DefaultBaseModel        string = "runwayml/stable-diffusion-v1-5"
	defaultConfigName       string = "loraapi"
	defaultSystemConfigPath string = "/etc/loraapi/"
)

// bound explicitly so they unmarshal into the nested structs,
// see https://github.com/spf13/viper/issues/761
var unboundEnvKeys = []string{
	BackendURL,
	"events.name",
	EventsKey,
	"events.queue_url",
	"events.queue",
	"mirror.azure.name",
	MirrorAzureKey,
	"mirror.azure.service_url",
	"mirror.azure.container",
	"mirror.minio.endpoint",
	MirrorMinioAccessKeyID,
	MirrorMinioSecretKey,
	"mirror.minio.bucket_name",
	"history.postgres.user",
	PostgresPassword,
	"history.postgres.database",
}

var configReady = false
var config Config

func GetConfig() (*Config, error) {
	if configReady {
		logger.Logger.Debug("returning already-loaded config")
		return &config, nil
	}
	logger.Logger.Info("loading config")

	v := viper.New()

	v.SetConfigName(defaultConfigName)

	v.AddConfigPath(defaultSystemConfigPath)
	v.AddConfigPath(".")

	v.SetConfigType("yaml")

	cfg, err := load(v)
	if err != nil {
		configReady = false
		return nil, err
	}

	config = *cfg
	configReady = true
	return &config, nil
}

// Reads config with the given viper instance. Split out so tests can point it at
// a temporary file.
func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.AutomaticEnv()

	for _, key := range unboundEnvKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	setDefaults(v)

	err := v.ReadInConfig()
	if err != nil {
		// ignore config file not found to allow pure env config
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	valid := validator.Create()
	if err := valid.Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(ListenAddress, "[::]:8000")
	v.SetDefault(GracefulShutdownSecs, 30)
	v.SetDefault(BaseModel, DefaultBaseModel)

	v.SetDefault(StorageModelsDir, "models")
	v.SetDefault(StorageUploadsDir, "uploads")
	v.SetDefault(StorageGeneratedDir, "generated")
	v.SetDefault(StorageWorkDir, "work")

	v.SetDefault(BackendKindKey, string(BackendPlaceholder))
	v.SetDefault(BackendStepDelay, 10*time.Millisecond)
	v.SetDefault(BackendPollInterval, time.Second)
	v.SetDefault(BackendRequestTimeout, 5*time.Minute)

	v.SetDefault(AppLogLevel, int(slog.LevelDebug))
	v.SetDefault(GormLogLevel, int(slog.LevelWarn))
	v.SetDefault(GormTraceQueries, false)
	v.SetDefault(TraceSampleRatio, 1.0)

	v.SetDefault(RedisHost, "localhost")
	v.SetDefault(TrainPerMinute, 0)
	v.SetDefault(GeneratePerMinute, 0)
	v.SetDefault(RateLimitFailOpen, true)

	v.SetDefault(MirrorKindKey, string(MirrorNone))
	v.SetDefault(MirrorMinioSSLEnabled, true)
	v.SetDefault(MirrorPresignTTL, time.Hour)

	v.SetDefault(EventsEnabled, false)

	v.SetDefault(HistoryEnabled, false)
	v.SetDefault(PostgresHost, "localhost")
	v.SetDefault(PostgresPort, 5432)
	v.SetDefault(PostgresMaxIdle, 2)
	v.SetDefault(PostgresMaxOpen, 10)
	v.SetDefault(PostgresConnectionTTL, 10*time.Minute)
}

func (c *Config) PostgresDSN() string {
	pg := c.History.Postgres
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s",
		url.QueryEscape(pg.User),
		url.QueryEscape(pg.Password),
		pg.Host, pg.Port,
		url.QueryEscape(pg.Database),
	)
}

func (c *Config) HistoryEnabled() bool {
	return c.History != nil && c.History.Enabled
}

func (c *Config) EventsEnabled() bool {
	return c.Events != nil && c.Events.Enabled
}
