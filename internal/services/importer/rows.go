package importer

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Row — одна строка bulk-экспорта перевозчика: ключ-значение, заголовки
// у каждого перевозчика свои.
type Row map[string]string

// Варианты заголовков по полям. Сопоставление регистронезависимое,
// пробелы/подчёркивания нормализуются.
var columnVariants = map[string][]string{
	"trackingNumber": {
		"container", "container number", "container no", "tracking number",
		"tracking", "bl", "bl number", "bill of lading", "awb", "awb number",
		"numero contenitore", "numero tracking", "reference",
	},
	"carrier": {
		"carrier", "carrier name", "shipping line", "line", "compagnia", "vettore",
	},
	"status": {
		"status", "current status", "stato",
	},
	"loadingDate": {
		"date of loading", "loading date", "load date", "pol date", "data di carico",
	},
	"dischargeDate": {
		"date of discharge", "discharge date", "pod date", "data di scarico",
	},
	"pol": {
		"pol", "port of loading", "porto di carico",
	},
	"pod": {
		"pod", "port of discharge", "porto di scarico",
	},
	"eta": {
		"eta", "estimated arrival",
	},
	"vessel": {
		"vessel", "vessel name", "nave",
	},
	"voyage": {
		"voyage", "voyage number", "viaggio",
	},
}

func normalizeHeader(h string) string {
	s := strings.ToLower(strings.TrimSpace(h))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

// field достаёт значение по каноническому имени поля, перебирая известные
// варианты заголовков.
func (r Row) field(name string) string {
	variants := columnVariants[name]
	for k, v := range r {
		nk := normalizeHeader(k)
		for _, variant := range variants {
			if nk == variant {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// ParseCSV читает экспорт перевозчика целиком: первая строка — заголовки,
// пустые строки пропускаются. Разделитель — запятая или точка с запятой.
func ParseCSV(r io.Reader, separator rune) ([]Row, error) {
	cr := csv.NewReader(r)
	if separator != 0 {
		cr.Comma = separator
	}
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read csv row")
		}

		row := make(Row, len(header))
		empty := true
		for i, h := range header {
			if i >= len(rec) {
				break
			}
			v := strings.TrimSpace(rec[i])
			if v != "" {
				empty = false
			}
			row[h] = v
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Текстовые даты перевозчиков: день-месяц-год в нескольких написаниях.
var rowDateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"2006-01-02",
	"02/01/2006 15:04",
	"2006-01-02 15:04:05",
}

// parseRowDate разбирает дату из строки импорта. Плейсхолдеры ("-", пусто)
// и мусор дают nil — строка импорта никогда не падает из-за даты.
func parseRowDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || s == "n/a" || s == "N/A" {
		return nil
	}
	for _, layout := range rowDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
