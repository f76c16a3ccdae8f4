package di

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/mailfeed/mailfeed/internal/modules/delivery/channel"
	deliveryService "github.com/mailfeed/mailfeed/internal/modules/delivery/service"
	"github.com/mailfeed/mailfeed/internal/modules/feed/fetch"
	feedRepo "github.com/mailfeed/mailfeed/internal/modules/feed/repository"
	feedService "github.com/mailfeed/mailfeed/internal/modules/feed/service"
	subRepo "github.com/mailfeed/mailfeed/internal/modules/subscription/repository"
	subService "github.com/mailfeed/mailfeed/internal/modules/subscription/service"
	userRepo "github.com/mailfeed/mailfeed/internal/modules/user/repository"
	"github.com/mailfeed/mailfeed/internal/security"
	"github.com/mailfeed/mailfeed/internal/shared/config"
	"github.com/mailfeed/mailfeed/internal/storage"
	httpServer "github.com/mailfeed/mailfeed/internal/transport/http"
	"github.com/samber/do/v2"
	"github.com/samber/oops"
)

// Setup initializes the dependency injection container
func Setup() (do.Injector, error) {
	injector := do.New()

	// Register Config
	do.Provide(injector, func(i do.Injector) (*config.Config, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, oops.With("context", "failed to load config").Wrap(err)
		}
		return cfg, nil
	})

	// Register Database
	do.Provide(injector, func(i do.Injector) (*sql.DB, error) {
		cfg := do.MustInvoke[*config.Config](i)
		db, err := storage.Open(cfg.DatabasePath)
		if err != nil {
			return nil, oops.With("database_path", cfg.DatabasePath, "context", "failed to open database").Wrap(err)
		}
		return db, nil
	})

	// Register Encryptor
	do.Provide(injector, func(i do.Injector) (*security.Encryptor, error) {
		cfg := do.MustInvoke[*config.Config](i)
		key, err := cfg.EncryptionKeyBytes()
		if err != nil {
			return nil, err
		}
		return security.NewEncryptor(key)
	})

	// Register Feed Repository
	do.Provide(injector, func(i do.Injector) (feedRepo.Repository, error) {
		db := do.MustInvoke[*sql.DB](i)
		return feedRepo.NewSQLiteStorage(db), nil
	})

	// Register Subscription Repository
	do.Provide(injector, func(i do.Injector) (subRepo.Repository, error) {
		db := do.MustInvoke[*sql.DB](i)
		return subRepo.NewSQLiteStorage(db), nil
	})

	// Register User Repository
	do.Provide(injector, func(i do.Injector) (userRepo.Repository, error) {
		db := do.MustInvoke[*sql.DB](i)
		return userRepo.NewSQLiteStorage(db), nil
	})

	// Register Fetcher
	do.Provide(injector, func(i do.Injector) (*fetch.Fetcher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return fetch.New(time.Duration(cfg.FetchTimeout) * time.Second), nil
	})

	// Register Feed Poller
	do.Provide(injector, func(i do.Injector) (*feedService.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[feedRepo.Repository](i)
		fetcher := do.MustInvoke[*fetch.Fetcher](i)
		return feedService.New(cfg, repo, fetcher), nil
	})

	// Register Scheduler
	do.Provide(injector, func(i do.Injector) (*subService.Scheduler, error) {
		subs := do.MustInvoke[subRepo.Repository](i)
		users := do.MustInvoke[userRepo.Repository](i)
		feeds := do.MustInvoke[feedRepo.Repository](i)
		return subService.NewScheduler(subs, users, feeds), nil
	})

	// Register Bot (only when a token is configured; email-only setups
	// run without it)
	do.Provide(injector, func(i do.Injector) (*bot.Bot, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.TelegramBotToken == "" {
			return nil, nil
		}
		opts := []bot.Option{
			bot.WithSkipGetMe(),
		}
		if cfg.TelegramAPIURL != "" {
			opts = append(opts, bot.WithServerURL(cfg.TelegramAPIURL))
		}
		b, err := bot.New(cfg.TelegramBotToken, opts...)
		if err != nil {
			return nil, oops.With("context", "failed to create telegram bot").Wrap(err)
		}
		return b, nil
	})

	// Register Channel Senders
	do.Provide(injector, func(i do.Injector) ([]channel.Sender, error) {
		encryptor := do.MustInvoke[*security.Encryptor](i)
		senders := []channel.Sender{channel.NewEmailSender(encryptor)}
		if b := do.MustInvoke[*bot.Bot](i); b != nil {
			senders = append(senders, channel.NewTelegramSender(b))
		}
		return senders, nil
	})

	// Register Delivery Coordinator
	do.Provide(injector, func(i do.Injector) (*deliveryService.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		scheduler := do.MustInvoke[*subService.Scheduler](i)
		feeds := do.MustInvoke[feedRepo.Repository](i)
		subs := do.MustInvoke[subRepo.Repository](i)
		users := do.MustInvoke[userRepo.Repository](i)
		senders := do.MustInvoke[[]channel.Sender](i)
		return deliveryService.New(cfg, scheduler, feeds, subs, users, senders), nil
	})

	// Register HTTP Server
	do.Provide(injector, func(i do.Injector) (*httpServer.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		fetcher := do.MustInvoke[*fetch.Fetcher](i)
		coordinator := do.MustInvoke[*deliveryService.Service](i)
		server := httpServer.New(cfg, fetcher, coordinator)
		server.SetLogger(slog.Default())
		return server, nil
	})

	return injector, nil
}

// Shutdown gracefully shuts down all services
func Shutdown(injector do.Injector) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server, err := do.Invoke[*httpServer.Server](injector); err == nil && server != nil {
		if err := server.Stop(ctx); err != nil {
			slog.Error("Error stopping HTTP server", "error", err)
		}
	}

	if coordinator, err := do.Invoke[*deliveryService.Service](injector); err == nil && coordinator != nil {
		coordinator.Stop()
	}

	if poller, err := do.Invoke[*feedService.Service](injector); err == nil && poller != nil {
		poller.Stop()
	}

	if b, err := do.Invoke[*bot.Bot](injector); err == nil && b != nil {
		b.Close(ctx)
	}

	if db, err := do.Invoke[*sql.DB](injector); err == nil && db != nil {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}

	return nil
}
