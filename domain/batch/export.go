package batch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/internal/storage"
)

// progressStep is how many rows are written between progress reports
const progressStep = 500

// ReportExport is the payload of a report_export job
type ReportExport struct {
	Name    string     `json:"name"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func (r ReportExport) validate() error {
	if len(r.Columns) == 0 {
		return errors.New("report export needs columns")
	}
	for i, row := range r.Rows {
		if len(row) != len(r.Columns) {
			return fmt.Errorf("row %d has %d fields, want %d", i, len(row), len(r.Columns))
		}
	}
	return nil
}

// ExportResult is stored as the job result
type ExportResult struct {
	Key         string `json:"key"`
	Rows        int    `json:"rows"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl"`
}

func exportName(name string) string {
	if name == "" {
		name = "report"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".csv") {
		name += ".csv"
	}
	return name
}

func (w *Worker) handleReportExport(ctx context.Context, job jobs.Job, progress jobs.ProgressFunc) (any, error) {
	var req ReportExport
	if err := job.Payload.Decode(&req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(req.Columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, row := range req.Rows {
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
		if (i+1)%progressStep == 0 && progress != nil {
			// upload accounts for the last 10%
			progress((i + 1) * 90 / len(req.Rows))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	if progress != nil {
		progress(90)
	}

	name := exportName(req.Name)
	key := storage.ExportKey(job.TenantID(), name, w.now())
	size := int64(buf.Len())
	if _, err := w.uploader.Upload(ctx, key, &buf, size, storage.UploadOptions{
		ContentType:        "text/csv",
		ContentDisposition: fmt.Sprintf(`attachment; filename="%s"`, storage.SanitizeFilename(name)),
		Metadata:           map[string]string{"tenant-id": job.TenantID(), "job-id": job.ID},
	}); err != nil {
		return nil, err
	}

	url, err := w.uploader.SignedDownloadURL(ctx, key, downloadExpiry)
	if err != nil {
		return nil, err
	}

	w.log.Info("report exported",
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID()),
		slog.String("key", key),
		slog.Int("rows", len(req.Rows)))

	return ExportResult{Key: key, Rows: len(req.Rows), Size: size, DownloadURL: url}, nil
}
