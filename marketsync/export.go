package marketsync

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/sellersync_backend/models"
	"bitbucket.org/mmdatafocus/sellersync_backend/utils"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

var reconciliationExportHeaders = []string{
	"Run Date",
	"Processed",
	"Reconciled",
	"Pending",
	"Total Estimated",
	"Total Real",
	"Total Difference",
	"Accuracy %",
}

// ExportReconciliationReport renders a store's reconciliation history to XLSX
// and uploads it to the report bucket. Returns the gs:// URL of the object.
func ExportReconciliationReport(ctx context.Context, storeId uuid.UUID, from, to *time.Time) (string, error) {
	logs, err := models.ListReconciliationLogs(ctx, storeId, from, to)
	if err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Reconciliation"
	f.SetSheetName("Sheet1", sheet)

	for col, header := range reconciliationExportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, header)
	}

	for i, log := range logs {
		row := i + 2
		values := []interface{}{
			log.RunDate.Format("2006-01-02 15:04"),
			log.TotalProcessed,
			log.TotalReconciled,
			log.TotalPending,
			log.TotalEstimated.StringFixed(4),
			log.TotalReal.StringFixed(4),
			log.TotalDifference.StringFixed(4),
		}
		if log.AverageAccuracy.Valid {
			values = append(values, log.AverageAccuracy.Decimal.StringFixed(2))
		} else {
			values = append(values, "")
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(sheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", err
	}

	objectName := fmt.Sprintf("reconciliation/%s/%s.xlsx", storeId, time.Now().Format("20060102-150405"))
	return utils.UploadReportToGCS(ctx, objectName,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
