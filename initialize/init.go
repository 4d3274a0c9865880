package initialize

import (
	"context"
	"fmt"
	"regexp"

	"brandvault/app/db"
	"brandvault/app/models"
	"brandvault/app/repo"
	"brandvault/app/services"
	"brandvault/config"
	"brandvault/mailer"
	"brandvault/media"
	"brandvault/queue"
	"brandvault/source"
	"brandvault/storage"
	"brandvault/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type App struct {
	Cfg         *config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	Store       storage.ObjectStore
	Source      source.Source
	Engine      *queue.Engine
	Assets      *services.AssetService
	Collections *services.CollectionService
	Downloads   *services.DownloadService
	Sync        *services.SyncService
	Log         zerolog.Logger
}

func Build(ctx context.Context, configPath string) (*App, error) {
	log := NewLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	gdb, err := db.Connect(db.Config{Host: cfg.DB.Host, Port: cfg.DB.Port, User: cfg.DB.User, Password: cfg.DB.Pass, DBName: cfg.DB.Name})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := gdb.AutoMigrate(
		&models.AssetFolder{}, &models.AssetFile{},
		&models.License{}, &models.AssetType{},
		&models.Collection{}, &models.CollectionFile{},
		&models.MenuItem{}, &models.Download{}, &models.Product{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	engine := queue.NewEngine(gdb, log)
	if err := engine.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate jobs: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Pass, DB: cfg.Redis.DB})

	store, err := storage.NewS3Store(ctx, storage.S3Options{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		Bucket:    cfg.S3.Bucket,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		PathStyle: cfg.S3.PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	src, err := buildSource(cfg.Source, log)
	if err != nil {
		return nil, err
	}

	var matchRegex *regexp.Regexp
	if cfg.ProductMatchPattern != "" {
		matchRegex, err = regexp.Compile(cfg.ProductMatchPattern)
		if err != nil {
			return nil, fmt.Errorf("parse product match pattern: %w", err)
		}
	}

	folderRepo := repo.NewAssetFolderRepository(gdb)
	fileRepo := repo.NewAssetFileRepository(gdb)
	collectionRepo := repo.NewCollectionRepository(gdb)
	menuItemRepo := repo.NewMenuItemRepository(gdb)
	downloadRepo := repo.NewDownloadRepository(gdb)
	productRepo := repo.NewProductRepository(gdb)

	assetSvc := services.NewAssetService(services.AssetServiceParams{
		DB:          gdb,
		Folders:     folderRepo,
		Files:       fileRepo,
		Collections: collectionRepo,
		Products:    productRepo,
		Jobs:        engine,
		Store:       store,
		Media:       media.NoopProcessor{},
		Source:      src,
		MatchRegex:  matchRegex,
		Log:         log,
	})
	collectionSvc := services.NewCollectionService(services.CollectionServiceParams{
		DB:          gdb,
		Collections: collectionRepo,
		Folders:     folderRepo,
		MenuItems:   menuItemRepo,
		Jobs:        engine,
		Store:       store,
		Log:         log,
	})
	downloadSvc := services.NewDownloadService(services.DownloadServiceParams{
		Downloads: downloadRepo,
		Files:     fileRepo,
		Jobs:      engine,
		Store:     store,
		Mail:      mailer.LogMailer{Log: log},
		Expiry:    cfg.DownloadExpiry,
		Log:       log,
	})
	syncSvc := services.NewSyncService(services.SyncServiceParams{
		Assets:   assetSvc,
		Source:   src,
		Redis:    rdb,
		Interval: cfg.SyncInterval,
		Log:      log,
	})

	if err := worker.Register(engine, worker.Services{
		Assets:      assetSvc,
		Collections: collectionSvc,
		Downloads:   downloadSvc,
	}); err != nil {
		return nil, fmt.Errorf("register queues: %w", err)
	}

	return &App{
		Cfg:         cfg,
		DB:          gdb,
		Redis:       rdb,
		Store:       store,
		Source:      src,
		Engine:      engine,
		Assets:      assetSvc,
		Collections: collectionSvc,
		Downloads:   downloadSvc,
		Sync:        syncSvc,
		Log:         log,
	}, nil
}

func buildSource(cfg config.Source, log zerolog.Logger) (source.Source, error) {
	switch cfg.Provider {
	case "dropbox":
		return source.NewDropbox(source.DropboxOptions{
			AppKey:       cfg.DropboxAppKey,
			AppSecret:    cfg.DropboxAppSecret,
			RefreshToken: cfg.DropboxRefreshToken,
		}, log), nil
	case "onedrive":
		return source.NewOneDrive(source.OneDriveOptions{
			TenantID:     cfg.OneDriveTenantID,
			ClientID:     cfg.OneDriveClientID,
			ClientSecret: cfg.OneDriveClientSecret,
			User:         cfg.OneDriveUserID,
			Drive:        cfg.OneDriveDriveID,
		}, log), nil
	case "local":
		return source.NewLocal(cfg.LocalRoot, log), nil
	default:
		return nil, fmt.Errorf("unknown source provider %q", cfg.Provider)
	}
}
