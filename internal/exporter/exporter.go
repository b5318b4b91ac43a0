// Package exporter writes the memory population to a FileProvider as JSON
// and reads such exports back.
package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/internal/storage_manager"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

const (
	formatVersion = 1
	filePrefix    = "memories-"
	fileLayout    = "20060102T150405Z"
)

// Records is the part of the memory service the exporter uses.
type Records interface {
	Search(ctx context.Context, filter model.Filter) iter.Seq2[model.MemoryRecord, error]
	Create(ctx context.Context, req memory_service.CreateRequest) (*model.MemoryRecord, error)
}

type Config struct {
	Records Records
	Files   storage_manager.FileProvider
	Logger  logger.Logger
	Clock   func() time.Time
}

type Exporter struct {
	records Records
	files   storage_manager.FileProvider
	log     logger.Logger
	now     func() time.Time
}

// document is the on-disk export format.
type document struct {
	Version    int                  `json:"version"`
	ExportedAt time.Time            `json:"exported_at"`
	Count      int                  `json:"count"`
	Records    []model.MemoryRecord `json:"records"`
}

func New(cfg Config) (*Exporter, error) {
	if cfg.Records == nil {
		return nil, errors.New("records are required")
	}
	if cfg.Files == nil {
		return nil, errors.New("file provider is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Exporter{
		records: cfg.Records,
		files:   cfg.Files,
		log:     cfg.Logger.WithFields(logger.ComponentField("exporter")),
		now:     cfg.Clock,
	}, nil
}

// Export writes every record to a new timestamped file and returns its path.
func (e *Exporter) Export(ctx context.Context) (string, int, error) {
	now := model.Timestamp(e.now())
	doc := document{Version: formatVersion, ExportedAt: now, Records: []model.MemoryRecord{}}
	for rec, err := range e.records.Search(ctx, model.Filter{}) {
		if err != nil {
			return "", 0, fmt.Errorf("export: %w", err)
		}
		doc.Records = append(doc.Records, rec)
	}
	doc.Count = len(doc.Records)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("encode export: %w", err)
	}
	name := filePrefix + now.Format(fileLayout) + ".json"
	if err := e.files.Write(ctx, name, data); err != nil {
		return "", 0, fmt.Errorf("write export %s: %w", name, err)
	}

	e.log.Info("Exported memories", logger.StringField("path", name), logger.IntField("count", doc.Count))
	return name, doc.Count, nil
}

// List returns the available export files, oldest first.
func (e *Exporter) List(ctx context.Context) ([]string, error) {
	files, err := e.files.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	out := files[:0]
	for _, f := range files {
		if strings.HasPrefix(f, filePrefix) && strings.HasSuffix(f, ".json") {
			out = append(out, f)
		}
	}
	return out, nil
}

// Import re-creates every record in the file at path. Records get new ids
// and pass normal validation; expired records are skipped. Invalid
// records are skipped and reported in the returned error.
func (e *Exporter) Import(ctx context.Context, path string) (int, error) {
	ok, err := e.files.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("check export %s: %w", path, err)
	}
	if !ok {
		return 0, fmt.Errorf("no export named %s: %w", path, model.ErrNotFound)
	}
	data, err := e.files.Read(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("read export %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, model.NewValidationError("export", "%s is not a valid export: %v", path, err)
	}
	if doc.Version != formatVersion {
		return 0, model.NewValidationError("export", "unsupported export version %d", doc.Version)
	}

	now := e.now()
	var result error
	imported, skipped := 0, 0
	for _, rec := range doc.Records {
		if rec.Expired(now) {
			skipped++
			continue
		}
		_, err := e.records.Create(ctx, memory_service.CreateRequest{
			MemoryKey:   rec.MemoryKey,
			Content:     rec.Content,
			Category:    string(rec.Category),
			Importance:  rec.Importance,
			UserDefined: rec.UserDefined,
			ExpiresAt:   rec.ExpiresAt,
		})
		if err != nil {
			if !model.IsValidation(err) {
				return imported, fmt.Errorf("import %s: %w", path, err)
			}
			result = multierror.Append(result, fmt.Errorf("record %s: %w", rec.ID, err))
			skipped++
			continue
		}
		imported++
	}

	e.log.Info("Imported memories",
		logger.StringField("path", path),
		logger.IntField("imported", imported),
		logger.IntField("skipped", skipped))
	return imported, result
}
