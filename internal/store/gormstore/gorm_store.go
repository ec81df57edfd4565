package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kestrel/internal/gateway/database"
	storemodel "kestrel/internal/store/model"
	"kestrel/internal/types"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type positionModel = storemodel.PositionModel
type pendingDcaModel = storemodel.PendingDcaModel
type pendingPartialExitModel = storemodel.PendingPartialExitModel

// GormStore implements the durable position ledger using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore initializes the store, creating the schema when missing.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: db path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&positionModel{},
		&pendingDcaModel{},
		&pendingPartialExitModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ database.Store = (*GormStore)(nil)

// --------------------- PositionStore Implementation -----------------------

func (s *GormStore) LoadAllPositions(ctx context.Context) ([]types.Position, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []positionModel
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(models))
	for _, m := range models {
		out = append(out, positionModelToRecord(m))
	}
	return out, nil
}

func (s *GormStore) SavePosition(ctx context.Context, pos *types.Position) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("gorm store 未初始化")
	}
	if pos == nil {
		return "", fmt.Errorf("position 不能为空")
	}
	if strings.TrimSpace(pos.ID) == "" {
		pos.ID = uuid.NewString()
	}
	model := newPositionModel(pos)
	cols := positionUpdateColumns()
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mint"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).
		Create(&model).Error
	if err != nil {
		return "", err
	}
	return pos.ID, nil
}

func (s *GormStore) UpdatePosition(ctx context.Context, pos *types.Position) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if pos == nil || strings.TrimSpace(pos.ID) == "" {
		return fmt.Errorf("position id 必填")
	}
	model := newPositionModel(pos)
	res := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ?", pos.ID).
		Select(positionUpdateColumns()).
		Updates(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *GormStore) DeletePositionByID(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("position id 必填")
	}
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&positionModel{}).Error
}

func positionUpdateColumns() []string {
	return []string{
		"symbol", "entry_signature", "entry_verified", "exit_signature", "exit_verified",
		"entry_price", "effective_entry_price", "exit_price", "effective_exit_price",
		"entry_size_sol", "token_amount", "entry_fee_sol", "exit_fee_sol", "sol_received",
		"exit_timestamp", "meta", "updated_at",
	}
}

// --------------------- PendingStore Implementation ------------------------

func (s *GormStore) SavePendingDcaSwap(ctx context.Context, rec types.PendingDcaSwap) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(rec.Signature) == "" {
		return fmt.Errorf("signature 必填")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	model := pendingDcaModel{
		Signature:     rec.Signature,
		Mint:          rec.Mint,
		PositionID:    rec.PositionID,
		SolAmount:     rec.SolAmount,
		ExpiryHeight:  rec.ExpiryHeight,
		CreatedAtUnix: rec.CreatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "signature"}},
			DoNothing: true,
		}).
		Create(&model).Error
}

func (s *GormStore) ListPendingDcaSwaps(ctx context.Context) ([]types.PendingDcaSwap, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []pendingDcaModel
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.PendingDcaSwap, 0, len(models))
	for _, m := range models {
		out = append(out, types.PendingDcaSwap{
			Signature:    m.Signature,
			Mint:         m.Mint,
			PositionID:   m.PositionID,
			SolAmount:    m.SolAmount,
			ExpiryHeight: m.ExpiryHeight,
			CreatedAt:    time.UnixMilli(m.CreatedAtUnix),
		})
	}
	return out, nil
}

func (s *GormStore) DeletePendingDcaSwap(ctx context.Context, signature string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Where("signature = ?", signature).Delete(&pendingDcaModel{}).Error
}

func (s *GormStore) SavePendingPartialExit(ctx context.Context, rec types.PendingPartialExit) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(rec.Signature) == "" {
		return fmt.Errorf("signature 必填")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	model := pendingPartialExitModel{
		Signature:          rec.Signature,
		Mint:               rec.Mint,
		PositionID:         rec.PositionID,
		ExpectedExitAmount: rec.ExpectedExitAmount,
		RequestedExitPct:   rec.RequestedExitPct,
		ExpiryHeight:       rec.ExpiryHeight,
		CreatedAtUnix:      rec.CreatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "signature"}},
			DoNothing: true,
		}).
		Create(&model).Error
}

func (s *GormStore) ListPendingPartialExits(ctx context.Context) ([]types.PendingPartialExit, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []pendingPartialExitModel
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.PendingPartialExit, 0, len(models))
	for _, m := range models {
		out = append(out, pendingPartialExitModelToRecord(m))
	}
	return out, nil
}

func (s *GormStore) FindPendingPartialExit(ctx context.Context, signature string) (types.PendingPartialExit, bool, error) {
	if s == nil || s.db == nil {
		return types.PendingPartialExit{}, false, fmt.Errorf("gorm store 未初始化")
	}
	var m pendingPartialExitModel
	if err := s.db.WithContext(ctx).Where("signature = ?", signature).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.PendingPartialExit{}, false, nil
		}
		return types.PendingPartialExit{}, false, err
	}
	return pendingPartialExitModelToRecord(m), true, nil
}

func (s *GormStore) DeletePendingPartialExit(ctx context.Context, signature string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Where("signature = ?", signature).Delete(&pendingPartialExitModel{}).Error
}

// --------------------------- Model Helpers --------------------------------

func newPositionModel(pos *types.Position) positionModel {
	now := time.Now()
	created := pos.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := pos.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	model := positionModel{
		ID:                  pos.ID,
		Mint:                strings.TrimSpace(pos.Mint),
		Symbol:              strings.ToUpper(strings.TrimSpace(pos.Symbol)),
		EntrySignature:      pos.EntrySignature,
		EntryVerified:       boolToInt(pos.EntryVerified),
		ExitSignature:       pos.ExitSignature,
		ExitVerified:        boolToInt(pos.ExitVerified),
		EntryPrice:          pos.EntryPrice,
		EffectiveEntryPrice: pos.EffectiveEntryPrice,
		ExitPrice:           pos.ExitPrice,
		EffectiveExitPrice:  pos.EffectiveExitPrice,
		EntrySizeSol:        pos.EntrySizeSol,
		TokenAmount:         pos.TokenAmount,
		EntryFeeSol:         pos.EntryFeeSol,
		ExitFeeSol:          pos.ExitFeeSol,
		SolReceived:         pos.SolReceived,
		CreatedAtUnix:       created.UnixMilli(),
		UpdatedAtUnix:       updated.UnixMilli(),
	}
	if pos.ExitTime != nil && !pos.ExitTime.IsZero() {
		model.ExitTimestamp = pos.ExitTime.UnixMilli()
	}
	return model
}

func positionModelToRecord(m positionModel) types.Position {
	pos := types.Position{
		ID:                  m.ID,
		Mint:                m.Mint,
		Symbol:              m.Symbol,
		EntrySignature:      m.EntrySignature,
		EntryVerified:       m.EntryVerified != 0,
		ExitSignature:       m.ExitSignature,
		ExitVerified:        m.ExitVerified != 0,
		EntryPrice:          m.EntryPrice,
		EffectiveEntryPrice: m.EffectiveEntryPrice,
		ExitPrice:           m.ExitPrice,
		EffectiveExitPrice:  m.EffectiveExitPrice,
		EntrySizeSol:        m.EntrySizeSol,
		TokenAmount:         m.TokenAmount,
		EntryFeeSol:         m.EntryFeeSol,
		ExitFeeSol:          m.ExitFeeSol,
		SolReceived:         m.SolReceived,
		CreatedAt:           time.UnixMilli(m.CreatedAtUnix),
		UpdatedAt:           time.UnixMilli(m.UpdatedAtUnix),
	}
	if m.ExitTimestamp > 0 {
		ts := time.UnixMilli(m.ExitTimestamp)
		pos.ExitTime = &ts
	}
	return pos
}

func pendingPartialExitModelToRecord(m pendingPartialExitModel) types.PendingPartialExit {
	return types.PendingPartialExit{
		Signature:          m.Signature,
		Mint:               m.Mint,
		PositionID:         m.PositionID,
		ExpectedExitAmount: m.ExpectedExitAmount,
		RequestedExitPct:   m.RequestedExitPct,
		ExpiryHeight:       m.ExpiryHeight,
		CreatedAt:          time.UnixMilli(m.CreatedAtUnix),
	}
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
