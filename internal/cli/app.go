package cli

import (
	"context"
	"fmt"

	"github.com/rescale/filehub/internal/api"
	"github.com/rescale/filehub/internal/cache"
	"github.com/rescale/filehub/internal/config"
	"github.com/rescale/filehub/internal/constants"
	"github.com/rescale/filehub/internal/dedup"
	"github.com/rescale/filehub/internal/events"
	"github.com/rescale/filehub/internal/logging"
	"github.com/rescale/filehub/internal/models"
	"github.com/rescale/filehub/internal/notify"
	"github.com/rescale/filehub/internal/services"
	"github.com/rescale/filehub/internal/state"
)

// app is the object graph shared by every command: one API client, the two
// resource caches, the poller, the view model and the mutation coordinator.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	bus      *events.EventBus
	client   *api.Client
	files    *state.FileCache
	reports  *dedup.ReportCache
	poller   *dedup.Poller
	view     *state.FileCollection
	service  *services.FileService
	notifier *notify.Notifier
}

// resolveConfigPath returns --config or the default location.
func resolveConfigPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file and applies flag overrides.
// Priority: flags > environment > config file > defaults
func loadConfig() (*config.Config, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if apiBaseURL != "" {
		cfg.APIBaseURL = apiBaseURL
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	return cfg, nil
}

// newApp wires the components for one command invocation.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := GetLogger()
	if cfg.LogFile != "" {
		log = logging.NewLogger(logging.Options{File: cfg.LogFile})
		logger = log
	}
	if !verbose && !debug {
		logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	}

	client, err := api.NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	bus := events.NewEventBus(constants.EventBusDefaultBuffer)

	files := cache.New[models.FileCollectionQuery, *models.PaginatedFileList](client.ListFiles, cache.Options{
		Name:   "files",
		Bus:    bus,
		Logger: log,
	})
	reports := cache.New[models.DedupKey, *models.DedupReport](func(ctx context.Context, _ models.DedupKey) (*models.DedupReport, error) {
		return client.GetLatestDedupReport(ctx)
	}, cache.Options{
		Name:   "dedup",
		Bus:    bus,
		Logger: log,
	})

	poller := dedup.NewPoller(reports, dedup.Options{
		Interval: cfg.PollInterval(),
		Bus:      bus,
		Logger:   log,
	})
	view := state.NewFileCollection(files, state.Options{
		SearchDebounce: cfg.SearchDebounce(),
		PageSize:       cfg.PageSize,
		Bus:            bus,
		Logger:         log,
	})
	service := services.NewFileService(client, files, services.Options{
		Poller: poller,
		View:   view,
		Bus:    bus,
		Logger: log,
	})

	notifyCfg := notify.DefaultConfig()
	notifyCfg.Enabled = cfg.NotificationsEnabled
	notifyCfg.ShowTransfers = true

	return &app{
		cfg:      cfg,
		logger:   log,
		bus:      bus,
		client:   client,
		files:    files,
		reports:  reports,
		poller:   poller,
		view:     view,
		service:  service,
		notifier: notify.NewNotifier(notifyCfg, log),
	}, nil
}

// Close releases background resources.
func (a *app) Close() {
	a.view.Close()
	a.bus.Close()
	if err := a.logger.Close(); err != nil {
		a.logger.Debug().Err(err).Msg("Failed to close log file")
	}
}

// waitForReport drives the poller until the current epoch is terminal.
func (a *app) waitForReport(ctx context.Context) (dedup.Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.poller.State() == dedup.StateIdle {
		a.poller.Arm()
	}
	go a.poller.Run(ctx)
	return a.poller.Wait(ctx)
}
