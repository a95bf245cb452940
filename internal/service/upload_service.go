package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/metrics"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/parser"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/storage"
)

// UploadRepository persists accepted uploads and prunes old snapshots
type UploadRepository interface {
	CreateUpload(ctx context.Context, upload *storage.Upload) (*models.BrokerAccount, error)
	DeleteBeyondRetention(ctx context.Context, accountID int64, keep int) (int64, error)
}

// SettingsReader reads the user settings
type SettingsReader interface {
	Get(ctx context.Context) (*models.UserSettings, error)
}

// ResolutionQueue accepts snapshots for background resolution
type ResolutionQueue interface {
	Enqueue(snapshotID int64) (bool, error)
}

// UploadInput is one CSV file submitted for a broker
type UploadInput struct {
	Broker   string
	Filename string
	Data     []byte
}

// UploadResult describes the stored snapshot
type UploadResult struct {
	SnapshotID       int64           `json:"snapshotId"`
	Broker           string          `json:"broker"`
	AccountLast4     string          `json:"accountLast4"`
	PositionCount    int             `json:"positionCount"`
	TotalValue       decimal.Decimal `json:"totalValue"`
	SnapshotDate     time.Time       `json:"snapshotDate"`
	ResolutionQueued bool            `json:"resolutionQueued"`
	SnapshotsPruned  int64           `json:"snapshotsPruned"`
	NeedsReview      []string        `json:"needsReview,omitempty"`
	Message          string          `json:"message"`
}

// UploadConfig configures an UploadService
type UploadConfig struct {
	Registry *parser.Registry
	Repo     UploadRepository
	Settings SettingsReader
	Queue    ResolutionQueue
	// MaxSize is the largest accepted file in bytes
	MaxSize int64
	// KnownBrokers are recognized names that may lack a parser
	KnownBrokers []string
	// ClassifyTimeout caps provider lookups during parsing. Once it passes,
	// classification falls back to heuristics. Default 3s.
	ClassifyTimeout time.Duration
}

// UploadService validates, parses and stores CSV uploads, then queues
// them for resolution
type UploadService struct {
	registry     *parser.Registry
	repo         UploadRepository
	settings     SettingsReader
	queue        ResolutionQueue
	maxSize      int64
	knownBrokers []string
	classifyFor  time.Duration
	now          func() time.Time
}

// NewUploadService creates an upload service
func NewUploadService(cfg UploadConfig) *UploadService {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 << 20
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = 3 * time.Second
	}
	return &UploadService{
		registry:     cfg.Registry,
		repo:         cfg.Repo,
		settings:     cfg.Settings,
		queue:        cfg.Queue,
		maxSize:      cfg.MaxSize,
		knownBrokers: cfg.KnownBrokers,
		classifyFor:  cfg.ClassifyTimeout,
		now:          time.Now,
	}
}

// Upload stores one CSV file. A rejected file leaves stored data untouched.
func (s *UploadService) Upload(ctx context.Context, in UploadInput) (result *UploadResult, err error) {
	broker := strings.ToLower(strings.TrimSpace(in.Broker))
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "rejected"
		}
		metrics.RecordUpload(broker, outcome)
	}()

	if err := s.validate(broker, in); err != nil {
		return nil, err
	}

	parseCtx, cancel := context.WithTimeout(ctx, s.classifyFor)
	portfolio, err := s.registry.ValidateAndParse(parseCtx, broker, in.Data)
	cancel()
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"broker":   broker,
		"filename": in.Filename,
	})

	snapshotDate := s.now().UTC()
	if portfolio.ExportTimestamp != nil {
		snapshotDate = portfolio.ExportTimestamp.UTC()
	}

	upload := &storage.Upload{
		Broker:       broker,
		AccountLast4: portfolio.AccountLast4,
		Filename:     filepath.Base(in.Filename),
		Snapshot: &models.PortfolioSnapshot{
			SnapshotDate:   snapshotDate,
			TotalValue:     portfolio.TotalValue,
			TotalPositions: len(portfolio.Holdings),
			UploadSource:   filepath.Base(in.Filename),
		},
		Holdings: make([]*models.Holding, 0, len(portfolio.Holdings)),
	}

	var review []string
	for _, ph := range portfolio.Holdings {
		upload.Holdings = append(upload.Holdings, &models.Holding{
			Symbol:      ph.Symbol,
			Name:        ph.Name,
			Quantity:    ph.Quantity,
			Price:       ph.Price,
			TotalValue:  ph.TotalValue,
			AssetType:   ph.AssetType,
			AccountType: ph.AccountType,
		})
		if ph.NeedsReview {
			review = append(review, ph.Symbol)
		}
	}

	account, err := s.repo.CreateUpload(ctx, upload)
	if err != nil {
		return nil, apperrors.NewDatabaseError("store upload", err)
	}
	snapshotID := upload.Snapshot.ID

	logger = logger.WithFields(map[string]interface{}{
		"snapshotId": snapshotID,
		"accountId":  account.ID,
	})
	logger.Infof("Stored snapshot with %d positions", len(upload.Holdings))

	pruned := s.applyRetention(ctx, account.ID, logger)

	queued, qerr := s.queue.Enqueue(snapshotID)
	if qerr != nil {
		// the periodic sweep resolves it later
		logger.WithError(qerr).Warn("Failed to queue snapshot for resolution")
	}

	return &UploadResult{
		SnapshotID:       snapshotID,
		Broker:           broker,
		AccountLast4:     account.AccountLast4,
		PositionCount:    len(upload.Holdings),
		TotalValue:       portfolio.TotalValue,
		SnapshotDate:     snapshotDate,
		ResolutionQueued: queued,
		SnapshotsPruned:  pruned,
		NeedsReview:      review,
		Message: fmt.Sprintf("Successfully uploaded %d positions (%s) for %s ...%s",
			len(upload.Holdings), FormatUSD(portfolio.TotalValue), broker, account.AccountLast4),
	}, nil
}

func (s *UploadService) validate(broker string, in UploadInput) error {
	if broker == "" {
		return apperrors.NewInvalidParameterError("broker", "broker name not specified")
	}
	if _, err := s.registry.Get(broker); err != nil {
		unsupported := apperrors.NewUnsupportedBrokerError(broker, s.registry.Brokers())
		if s.IsKnownBroker(broker) {
			unsupported.Message = fmt.Sprintf("broker %s is recognized but not supported yet", broker)
			unsupported.Details["recognized"] = true
		}
		return unsupported
	}
	if strings.TrimSpace(in.Filename) == "" {
		return apperrors.NewInvalidParameterError("file", "no file selected")
	}
	if !strings.EqualFold(filepath.Ext(in.Filename), ".csv") {
		return apperrors.NewInvalidParameterError("file", "only CSV files are allowed")
	}
	if int64(len(in.Data)) > s.maxSize {
		return apperrors.NewFileTooLargeError(s.maxSize)
	}
	if len(in.Data) == 0 {
		return apperrors.NewInvalidParameterError("file", "file is empty")
	}
	return nil
}

// IsKnownBroker reports whether broker is recognized, with or without a parser
func (s *UploadService) IsKnownBroker(broker string) bool {
	broker = strings.ToLower(strings.TrimSpace(broker))
	if _, err := s.registry.Get(broker); err == nil {
		return true
	}
	for _, b := range s.knownBrokers {
		if strings.EqualFold(b, broker) {
			return true
		}
	}
	return false
}

// applyRetention prunes old snapshots. Failures are logged; the upload
// itself already succeeded.
func (s *UploadService) applyRetention(ctx context.Context, accountID int64, logger *logging.Logger) int64 {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to read retention setting")
		return 0
	}
	if settings.SnapshotRetentionLimit <= 0 {
		return 0
	}
	pruned, err := s.repo.DeleteBeyondRetention(ctx, accountID, settings.SnapshotRetentionLimit)
	if err != nil {
		logger.WithError(err).Warn("Failed to apply snapshot retention")
		return 0
	}
	if pruned > 0 {
		logger.WithField("pruned", pruned).Info("Removed snapshots beyond retention limit")
	}
	return pruned
}
