package journal

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "github.com/yanapattin-source/bybit-rebalance-perp/config"
	"github.com/yanapattin-source/bybit-rebalance-perp/internal/metadata"
	"github.com/yanapattin-source/bybit-rebalance-perp/logger"
	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

// cycleParquetRecord is the parquet layout of one journal row.
type cycleParquetRecord struct {
	Timestamp        int64   `parquet:"name=timestamp, type=INT64"`
	Symbol           string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Action           string  `parquet:"name=action, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side             string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Qty              float64 `parquet:"name=qty, type=DOUBLE"`
	Price            float64 `parquet:"name=price, type=DOUBLE"`
	RealizedPnl      float64 `parquet:"name=realized_pnl, type=DOUBLE"`
	FundingPaid      float64 `parquet:"name=funding_paid, type=DOUBLE"`
	FeesPaid         float64 `parquet:"name=fees_paid, type=DOUBLE"`
	PositionQty      float64 `parquet:"name=pos_qty, type=DOUBLE"`
	PositionNotional float64 `parquet:"name=pos_notional, type=DOUBLE"`
	Equity           float64 `parquet:"name=equity, type=DOUBLE"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// Writer drains the record channel into the CSV journal and, when S3 storage
// is enabled, batches rows into parquet files uploaded on a flush interval.
type Writer struct {
	config      *appconfig.Config
	records     <-chan models.CycleRecord
	csvWriter   *CSVWriter
	s3Client    *s3.Client
	metaGen     *metadata.Generator
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      []models.CycleRecord
	flushTicker *time.Ticker
}

// NewWriter builds the journal writer. The S3 exporter is configured only
// when storage.s3.enabled is set; AWS credentials are validated up front so
// a misconfigured exporter fails at startup instead of at the first flush.
func NewWriter(cfg *appconfig.Config, records <-chan models.CycleRecord) (*Writer, error) {
	log := logger.GetLogger()

	csvWriter, err := NewCSVWriter(cfg.Journal.CSVPath)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		config:    cfg,
		records:   records,
		csvWriter: csvWriter,
		wg:        &sync.WaitGroup{},
		log:       log,
	}

	if cfg.Storage.S3.Enabled {
		ctx := context.Background()

		loadOpts := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Storage.S3.Region),
		}
		if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.Storage.S3.AccessKeyID,
					cfg.Storage.S3.SecretAccessKey,
					"",
				),
			))
		}

		awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			csvWriter.Close()
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}

		creds, err := awsConfig.Credentials.Retrieve(ctx)
		if err != nil || !creds.HasKeys() {
			csvWriter.Close()
			return nil, fmt.Errorf("aws credentials not found")
		}

		w.s3Client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Storage.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
			}
			o.UsePathStyle = cfg.Storage.S3.PathStyle
		})

		w.metaGen = metadata.NewGenerator(filepath.Dir(cfg.Journal.CSVPath), "rebalance_journal")
	}

	log.WithComponent("journal_writer").WithFields(logger.Fields{
		"csv_path":   cfg.Journal.CSVPath,
		"s3_enabled": cfg.Storage.S3.Enabled,
		"bucket":     cfg.Storage.S3.Bucket,
	}).Info("journal writer initialized")

	return w, nil
}

// Start launches the consumer worker and, when exporting, the flush worker.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("journal writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("journal_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting journal writer")

	w.wg.Add(1)
	go w.worker()

	if w.s3Client != nil {
		w.flushTicker = time.NewTicker(w.config.Journal.FlushInterval)
		w.wg.Add(1)
		go w.flushWorker()
	}

	log.Info("journal writer started successfully")
	return nil
}

// Stop waits for the workers to finish and closes the CSV file. A final
// flush catches rows drained after the flush worker exited.
func (w *Writer) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("journal_writer").Info("stopping journal writer")
	w.wg.Wait()

	if w.s3Client != nil {
		w.flushBuffers("stop")
	}

	if err := w.csvWriter.Close(); err != nil {
		w.log.WithComponent("journal_writer").WithError(err).Warn("failed to close journal file")
	}
	w.log.WithComponent("journal_writer").Info("journal writer stopped")
}

func (w *Writer) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("journal_writer").WithFields(logger.Fields{"worker": "records"})
	log.Info("starting journal worker")

	for {
		select {
		case <-w.ctx.Done():
			w.drainRemaining()
			log.Info("worker stopped due to context cancellation")
			return
		case rec, ok := <-w.records:
			if !ok {
				log.Info("record channel closed, worker stopping")
				return
			}
			w.handleRecord(rec)
		}
	}
}

// drainRemaining consumes records already queued at shutdown so the journal
// does not lose rows the engine produced before cancellation.
func (w *Writer) drainRemaining() {
	for {
		select {
		case rec, ok := <-w.records:
			if !ok {
				return
			}
			w.handleRecord(rec)
		default:
			return
		}
	}
}

func (w *Writer) handleRecord(rec models.CycleRecord) {
	log := w.log.WithComponent("journal_writer").WithFields(logger.Fields{
		"action": rec.Action,
		"side":   rec.Side,
	})

	if err := w.csvWriter.Append(rec); err != nil {
		log.WithError(err).Error("failed to append journal row")
	} else {
		log.Debug("journal row appended")
	}

	if w.s3Client != nil {
		w.mu.Lock()
		w.buffer = append(w.buffer, rec)
		w.mu.Unlock()
	}
}

func (w *Writer) flushWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("journal_writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-w.ctx.Done():
			w.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.flushBuffers("interval")
		}
	}
}

func (w *Writer) flushBuffers(reason string) {
	w.mu.Lock()
	entries := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	batchID := uuid.New().String()
	now := time.Now().UTC()

	log := w.log.WithComponent("journal_writer").WithFields(logger.Fields{
		"batch_id":     batchID,
		"record_count": len(entries),
		"reason":       reason,
		"operation":    "flush",
	})
	log.Info("flushing journal batch")

	s3Key := w.generateS3Key(now)
	log = log.WithFields(logger.Fields{"s3_key": s3Key})

	data, fileSize, err := w.createParquetFile(entries)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	if err := w.uploadToS3(s3Key, data); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": w.config.Storage.S3.Bucket}).
			Error("failed to upload to S3")
		return
	}

	logger.IncrementJournalFlush(fileSize)
	logger.LogDataFlowEntry(log, "journal_buffer", "s3", len(entries), "cycle_records")

	df := metadata.DataFile{
		Path:        fmt.Sprintf("s3://%s/%s", w.config.Storage.S3.Bucket, s3Key),
		FileSize:    fileSize,
		RecordCount: int64(len(entries)),
		Partition: map[string]any{
			"symbol": w.config.Exchange.Symbol,
			"date":   now.Format("2006-01-02"),
		},
		Timestamp: now,
	}
	if err := w.metaGen.AddFile(df); err != nil {
		log.WithError(err).Warn("failed to update metadata")
	}

	log.WithFields(logger.Fields{"file_size": fileSize}).Info("journal batch uploaded")
}

func (w *Writer) generateS3Key(timestamp time.Time) string {
	var parts []string
	for _, k := range w.config.Journal.Partitioning.AdditionalKeys {
		switch k {
		case "symbol":
			parts = append(parts, fmt.Sprintf("symbol=%s", w.config.Exchange.Symbol))
		case "category":
			parts = append(parts, fmt.Sprintf("category=%s", w.config.Exchange.Category))
		}
	}

	timeFormat := w.config.Journal.Partitioning.TimeFormat
	timePath := strings.ReplaceAll(timeFormat, "{year}", fmt.Sprintf("%04d", timestamp.Year()))
	timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", timestamp.Month()))
	timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", timestamp.Day()))
	timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", timestamp.Hour()))

	parts = append(parts, timePath)

	ts := timestamp.Format("20060102150405")
	filename := fmt.Sprintf("bybit_cycles_%s_%s.parquet", w.config.Exchange.Symbol, ts)

	key := filepath.Join(append(parts, filename)...)
	return filepath.ToSlash(key)
}

func (w *Writer) createParquetFile(entries []models.CycleRecord) ([]byte, int64, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(cycleParquetRecord), 4)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch w.config.Journal.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "lzo":
		pw.CompressionType = parquet.CompressionCodec_LZO
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, entry := range entries {
		side := string(entry.Side)
		if side == "" {
			side = string(models.SideNone)
		}

		record := cycleParquetRecord{
			Timestamp:        entry.Timestamp.UnixMilli(),
			Symbol:           entry.Symbol,
			Action:           entry.Action,
			Side:             side,
			Qty:              entry.Qty,
			Price:            entry.Price,
			RealizedPnl:      entry.RealizedPnL,
			FundingPaid:      entry.FundingPaid,
			FeesPaid:         entry.FeesPaid,
			PositionQty:      entry.PositionQty,
			PositionNotional: entry.PositionNotional,
			Equity:           entry.Equity,
		}

		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, 0, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	data := fw.Bytes()
	return data, int64(len(data)), nil
}

func (w *Writer) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"compression":  w.config.Journal.Compression,
			"app-version":  w.config.App.Version,
		},
	}

	// Shutdown flushes must finish even though the run context is cancelled.
	ctx := context.WithoutCancel(w.ctx)
	_, err := w.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}
	return nil
}
