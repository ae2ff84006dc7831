package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (registry database)
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis (batch job locks)
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Kafka Consumer (ingestion output - normalized source rows)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaIntakeTopic     string   `env:"KAFKA_INTAKE_TOPIC" env-default:"source-rows"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"fern-intake"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Kafka Producer (entity events for downstream views/reporting)
	KafkaEventsTopic  string `env:"KAFKA_EVENTS_TOPIC" env-default:"registry-events"`
	KafkaBatchSize    int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Matching policy. Tier confidences are tuned operational policy, not
	// principled constants, so they stay configurable.
	Tier0ConfidenceEmail float64       `env:"TIER0_CONFIDENCE_EMAIL" env-default:"0.98"`
	Tier0ConfidencePhone float64       `env:"TIER0_CONFIDENCE_PHONE" env-default:"0.95"`
	Tier1Confidence      float64       `env:"TIER1_CONFIDENCE" env-default:"0.82"`
	Tier2Confidence      float64       `env:"TIER2_CONFIDENCE" env-default:"0.55"`
	Tier3Confidence      float64       `env:"TIER3_CONFIDENCE" env-default:"0.40"`
	Tier0NameSimilarity  float64       `env:"TIER0_NAME_SIMILARITY" env-default:"0.80"`
	Tier2NameSimilarity  float64       `env:"TIER2_NAME_SIMILARITY" env-default:"0.85"`
	Tier3NameSimilarity  float64       `env:"TIER3_NAME_SIMILARITY" env-default:"0.70"`
	MatchBatchSize       int           `env:"MATCH_BATCH_SIZE" env-default:"200"`
	AutoAcceptEnabled    bool          `env:"AUTO_ACCEPT_ENABLED" env-default:"false"`
	JobLockTTL           time.Duration `env:"JOB_LOCK_TTL" env-default:"5m"`

	// Classification policy (months since last seen).
	RecencyActiveMonths     int `env:"RECENCY_ACTIVE_MONTHS" env-default:"24"`
	RecencyResurgenceMonths int `env:"RECENCY_RESURGENCE_MONTHS" env-default:"36"`
	RecencyFadeMonths       int `env:"RECENCY_FADE_MONTHS" env-default:"48"`
	QualityPromotionFloor   int `env:"QUALITY_PROMOTION_FLOOR" env-default:"70"`
	QualityDemotionGuard    int `env:"QUALITY_DEMOTION_GUARD" env-default:"50"`
}
