package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hearthvault/hearthvault/internal/config"
	"github.com/hearthvault/hearthvault/internal/crypto"
	"github.com/hearthvault/hearthvault/internal/logger"
	"github.com/hearthvault/hearthvault/internal/merge"
	"github.com/hearthvault/hearthvault/internal/model"
	"github.com/hearthvault/hearthvault/internal/queue"
	"github.com/hearthvault/hearthvault/internal/repository/sqlite"
	"github.com/hearthvault/hearthvault/internal/service"
	"github.com/hearthvault/hearthvault/internal/storage/drive"
	"github.com/hearthvault/hearthvault/internal/storage/localfile"
	"github.com/hearthvault/hearthvault/internal/storage/object"
	"github.com/hearthvault/hearthvault/internal/token"
	"github.com/hearthvault/hearthvault/internal/walog"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.New(cfg.LogLevel)

	familyID, err := uuid.Parse(cfg.Sync.FamilyID)
	if err != nil {
		logger.Fatal("SYNC_FAMILY_ID must be a valid UUID", "error", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logger.Fatal("failed to create data directory", "error", err)
	}

	db, err := sqlite.NewConnection(ctx, filepath.Join(cfg.DataDir, "hearthvault.db"))
	if err != nil {
		logger.Fatal("failed to initialize local database", "error", err)
	}
	defer db.Close()

	snapshotRepo := sqlite.NewSnapshotRepository(db.DB)
	queueRepo := sqlite.NewQueueRepository(db.DB)
	settingsLogRepo := sqlite.NewSettingsLogRepository(db.DB)
	passkeyRepo := sqlite.NewPasskeyRepository(db.DB)
	configRepo := sqlite.NewProviderConfigRepository(db.DB)

	cryptoService := crypto.NewService(crypto.Params{
		Time:   cfg.KDF.Time,
		MemKiB: cfg.KDF.MemKiB,
		Par:    cfg.KDF.Par,
	})
	merger := merge.New(cfg.Sync.TombstoneRetention)
	writeQueue := queue.New(queueRepo, logger)
	settingsLog := walog.New(settingsLogRepo, cfg.Sync.SettingsLogMaxAge, logger)

	orchestrator := service.NewOrchestrator(service.Options{
		FamilyID:    familyID,
		FamilyName:  cfg.Sync.FamilyName,
		Crypto:      cryptoService,
		Merger:      merger,
		Snapshots:   snapshotRepo,
		Passkeys:    passkeyRepo,
		Queue:       writeQueue,
		SettingsLog: settingsLog,
		Logger:      logger,
		Debounce:    cfg.Sync.Debounce,
	})

	provider := buildProvider(ctx, cfg, familyID, writeQueue, configRepo, logger)
	orchestrator.SetProvider(provider)

	unsubscribe := orchestrator.OnFailureChange(func(level service.FailureLevel, lastError *string) {
		if lastError != nil {
			logger.Warn("sync failure level changed", "level", level, "error", *lastError)
			return
		}
		logger.Info("sync failure level changed", "level", level)
	})
	defer unsubscribe()

	if cfg.Sync.Password != "" {
		orchestrator.EnableEncryption(cfg.Sync.Password)
	}

	creds := service.Credentials{Password: cfg.Sync.Password}
	if err := orchestrator.Load(ctx, creds); err != nil {
		logger.Error("initial load failed", "error", err)
	}

	logAppVersion()
	logger.Info("sync engine running", "provider", provider.Kind(), "family_id", familyID)

	ticker := time.NewTicker(cfg.Sync.PollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			orchestrator.OnReconnect(ctx)

			changed, err := orchestrator.RemoteChanged(ctx)
			if err != nil {
				logger.Warn("remote change check failed", "error", err)
				continue
			}
			if changed {
				if err := orchestrator.Load(ctx, creds); err != nil {
					logger.Error("load failed", "error", err)
				}
			}
		}
	}

	logger.Info("received interruption signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := orchestrator.Save(shutdownCtx); err != nil {
		logger.Error("final save failed", "error", err)
	}
	orchestrator.Close()
	logger.Info("shutdown complete")
}

// buildProvider restores the persisted provider choice for the family and
// falls back to the local file when the persisted kind cannot be built.
func buildProvider(
	ctx context.Context,
	cfg *config.Config,
	familyID uuid.UUID,
	writeQueue *queue.Queue,
	configRepo model.ProviderConfigStore,
	logger *logger.Logger,
) model.Provider {
	local := localfile.New(filepath.Join(cfg.DataDir, cfg.Sync.FilePath), configRepo, logger)

	active, err := configRepo.GetActive(ctx, familyID)
	if err != nil {
		logger.Warn("failed to load persisted provider config", "error", err)
		return local
	}
	if active == nil {
		return local
	}

	switch active.Kind {
	case model.ProviderDrive:
		p, err := buildDriveProvider(cfg, familyID, writeQueue, configRepo, logger)
		if err != nil {
			if errors.Is(err, model.ErrProviderNotConfigured) {
				logger.Warn("drive provider persisted but not configured, using local file")
			} else {
				logger.Warn("failed to build drive provider, using local file", "error", err)
			}
			return local
		}
		p.SetFileID(active.Location)
		return p
	case model.ProviderObject:
		p, err := buildObjectProvider(cfg, configRepo, logger)
		if err != nil {
			logger.Warn("failed to build object provider, using local file", "error", err)
			return local
		}
		return p
	default:
		return local
	}
}

func buildDriveProvider(
	cfg *config.Config,
	familyID uuid.UUID,
	writeQueue *queue.Queue,
	configRepo model.ProviderConfigStore,
	logger *logger.Logger,
) (*drive.Provider, error) {
	// Headless process: there is nobody to run an interactive consent
	// flow, so refresh failures surface as errors instead.
	tokens := token.NewCachingSource(cfg.Drive.Token, func(ctx context.Context) (string, error) {
		return "", fmt.Errorf("interactive sign-in required")
	}, cfg.Drive.RefreshTimeout)

	client := drive.NewClient(cfg.Drive.Endpoint, &http.Client{Timeout: 30 * time.Second}, tokens)

	return drive.New(client, drive.Options{
		ClientID: cfg.Drive.ClientID,
		FileName: cfg.Sync.FilePath,
		FamilyID: familyID,
		Queue:    writeQueue,
		Configs:  configRepo,
		Tokens:   tokens,
		Logger:   logger,
	})
}

func buildObjectProvider(cfg *config.Config, configRepo model.ProviderConfigStore, logger *logger.Logger) (*object.Provider, error) {
	if cfg.Object.Endpoint == "" {
		return nil, model.ErrProviderNotConfigured
	}
	client, err := minio.New(cfg.Object.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Object.AccessKey, cfg.Object.SecretKey, ""),
		Secure: cfg.Object.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return object.NewProvider(client, cfg.Object.Bucket, cfg.Sync.FilePath, configRepo, logger), nil
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`

	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}
