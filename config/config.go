package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type DB struct {
	Host string
	Port int
	User string
	Pass string
	Name string
}

type Redis struct {
	Addr string
	Pass string
	DB   int
}

type S3 struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Source selects the external file provider. Provider is one of "dropbox",
// "onedrive", "local"; only the matching credential block is read.
type Source struct {
	Provider string

	DropboxAppKey       string
	DropboxAppSecret    string
	DropboxRefreshToken string

	OneDriveTenantID     string
	OneDriveClientID     string
	OneDriveClientSecret string
	OneDriveUserID       string
	OneDriveDriveID      string

	LocalRoot string
}

type Config struct {
	DB     DB
	Redis  Redis
	S3     S3
	Source Source

	SyncInterval        time.Duration
	DownloadExpiry      time.Duration
	ProductMatchPattern string
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.user", "root")
	v.SetDefault("db.pass", "")
	v.SetDefault("db.name", "brandvault")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "brandvault")
	v.SetDefault("s3.path_style", true)
	v.SetDefault("source.provider", "local")
	v.SetDefault("source.local.root", "assets")
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("downloads.expiry", "168h")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		DB: DB{
			Host: v.GetString("db.host"),
			Port: v.GetInt("db.port"),
			User: v.GetString("db.user"),
			Pass: v.GetString("db.pass"),
			Name: v.GetString("db.name"),
		},
		Redis: Redis{
			Addr: v.GetString("redis.addr"),
			Pass: v.GetString("redis.pass"),
			DB:   v.GetInt("redis.db"),
		},
		S3: S3{
			Endpoint:  v.GetString("s3.endpoint"),
			Region:    v.GetString("s3.region"),
			Bucket:    v.GetString("s3.bucket"),
			AccessKey: v.GetString("s3.access_key"),
			SecretKey: v.GetString("s3.secret_key"),
			PathStyle: v.GetBool("s3.path_style"),
		},
		Source: Source{
			Provider:             v.GetString("source.provider"),
			DropboxAppKey:        v.GetString("source.dropbox.app_key"),
			DropboxAppSecret:     v.GetString("source.dropbox.app_secret"),
			DropboxRefreshToken:  v.GetString("source.dropbox.refresh_token"),
			OneDriveTenantID:     v.GetString("source.onedrive.tenant_id"),
			OneDriveClientID:     v.GetString("source.onedrive.client_id"),
			OneDriveClientSecret: v.GetString("source.onedrive.client_secret"),
			OneDriveUserID:       v.GetString("source.onedrive.user_id"),
			OneDriveDriveID:      v.GetString("source.onedrive.drive_id"),
			LocalRoot:            v.GetString("source.local.root"),
		},
		SyncInterval:        v.GetDuration("sync.interval"),
		DownloadExpiry:      v.GetDuration("downloads.expiry"),
		ProductMatchPattern: v.GetString("products.match_pattern"),
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	if cfg.DownloadExpiry <= 0 {
		cfg.DownloadExpiry = 7 * 24 * time.Hour
	}
	return cfg, nil
}
