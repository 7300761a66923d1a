package mailbox

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/m4xw311/mailtriage/errors"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
)

// Spreadsheet column names.
const (
	ColEmailID    = "email-id"
	ColTime       = "converse-time"
	ColCSID       = "cs-id"
	ColSender     = "sender"
	ColReceiver   = "receiver"
	ColContent    = "email-content"
	ColAICategory = "ai-categ"
)

var requiredColumns = []string{ColEmailID, ColTime, ColCSID, ColSender, ColReceiver, ColContent}

// SpreadsheetSource reads an .xlsx or .csv export with one message per row.
// Rows sharing an email-id form one conversation.
type SpreadsheetSource struct {
	Path string
	// Sheet names the worksheet of an .xlsx file. Empty selects the first.
	Sheet string
}

func (s *SpreadsheetSource) Name() string { return s.Path }

func (s *SpreadsheetSource) Load(ctx context.Context) ([]*Email, error) {
	rows, err := readRows(s.Path, s.Sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("spreadsheet %s is empty", s.Path)
	}
	cols := columnIndex(rows[0])
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Wrapf(errors.ErrInvalid, "spreadsheet %s is missing required columns %s", s.Path, strings.Join(missing, ", "))
	}

	var out []*Email
	seq := map[string]int{}
	for _, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		get := func(col string) string {
			i, ok := cols[col]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		convID := get(ColEmailID)
		if convID == "" {
			continue
		}
		seq[convID]++
		content := get(ColContent)
		if looksLikeHTML(content) {
			content = HTMLToText(content)
		}
		sender := get(ColSender)
		addr := FirstAddress(sender)
		if addr == "" {
			addr = sender
		}
		recipient := get(ColReceiver)
		if recipient == "" {
			recipient = DefaultRecipient
		}
		subject := field(subjectField, content)
		if subject == "" {
			subject = "No Subject"
		}
		out = append(out, &Email{
			ID:             fmt.Sprintf("%s#%d", convID, seq[convID]),
			ConversationID: convID,
			Sender:         sender,
			SenderName:     senderName(sender),
			SenderEmail:    addr,
			Recipient:      recipient,
			Timestamp:      parseTime(get(ColTime)),
			Subject:        subject,
			Content:        content,
			Company:        field(companyField, content),
			Country:        field(countryField, content),
			CSID:           get(ColCSID),
			Status:         Pending,
			AICategory:     get(ColAICategory),
			Path:           s.Path,
		})
	}
	return out, nil
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup && h != "" {
			cols[h] = i
		}
	}
	return cols
}

func isXLSX(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}

// readRows returns every row of the file, header first.
func readRows(path, sheet string) ([][]string, error) {
	if isXLSX(path) {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open workbook %s", path)
		}
		defer f.Close()
		if sheet == "" {
			sheets := f.GetSheetList()
			if len(sheets) == 0 {
				return nil, errors.New("workbook %s has no sheets", path)
			}
			sheet = sheets[0]
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read sheet %q of %s", sheet, path)
		}
		return rows, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()
	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", path)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"1/2/06 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"01-02-06 15:04",
	"2006-01-02",
}

// parseTime accepts the common export layouts and Excel serial dates. An
// unparsable value yields the zero time, which sorts before every other.
func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, v); err == nil {
			return t
		}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if t, err := excelize.ExcelDateToTime(f, false); err == nil {
			return t
		}
	}
	return time.Time{}
}

func senderName(sender string) string {
	if i := strings.Index(sender, "<"); i > 0 {
		return strings.Trim(strings.TrimSpace(sender[:i]), `"`)
	}
	return ""
}

var htmlTag = regexp.MustCompile(`(?i)<(html|body|div|p|br|span|table|tr|td|font|b|strong|a)[\s>/]`)

func looksLikeHTML(s string) bool {
	return htmlTag.MatchString(s)
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "hr": true,
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// HTMLToText renders an HTML message body as plain text. Block elements
// become line breaks; scripts and styles are dropped.
func HTMLToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return normalizeText(b.String())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if tt == html.StartTagToken {
					skip++
				} else if tt == html.EndTagToken && skip > 0 {
					skip--
				}
				continue
			}
			if blockElements[tag] {
				b.WriteString("\n")
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func normalizeText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\u00a0", " "), "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// WriteColumn sets column col of every row whose email-id is a key of values,
// adding the column when the file lacks it. It returns the number of rows
// updated. The file is rewritten in place.
func WriteColumn(path, sheet, col string, values map[string]string) (int, error) {
	if isXLSX(path) {
		return writeXLSXColumn(path, sheet, col, values)
	}
	rows, err := readRows(path, "")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, errors.New("spreadsheet %s is empty", path)
	}
	cols := columnIndex(rows[0])
	idIdx, ok := cols[ColEmailID]
	if !ok {
		return 0, errors.Wrapf(errors.ErrInvalid, "spreadsheet %s has no %s column", path, ColEmailID)
	}
	target, ok := cols[col]
	if !ok {
		target = len(rows[0])
		rows[0] = append(rows[0], col)
	}
	updated := 0
	for i := 1; i < len(rows); i++ {
		if idIdx >= len(rows[i]) {
			continue
		}
		v, ok := values[strings.TrimSpace(rows[i][idIdx])]
		if !ok {
			continue
		}
		for len(rows[i]) <= target {
			rows[i] = append(rows[i], "")
		}
		rows[i][target] = v
		updated++
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".mailbox-*.csv")
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create temp file for %s", path)
	}
	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, errors.Wrapf(err, "failed to write %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, errors.Wrapf(err, "failed to write %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return 0, errors.Wrapf(err, "failed to replace %s", path)
	}
	return updated, nil
}

func writeXLSXColumn(path, sheet, col string, values map[string]string) (int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open workbook %s", path)
	}
	defer f.Close()
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return 0, errors.New("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read sheet %q of %s", sheet, path)
	}
	if len(rows) == 0 {
		return 0, errors.New("spreadsheet %s is empty", path)
	}
	cols := columnIndex(rows[0])
	idIdx, ok := cols[ColEmailID]
	if !ok {
		return 0, errors.Wrapf(errors.ErrInvalid, "spreadsheet %s has no %s column", path, ColEmailID)
	}
	target, ok := cols[col]
	if !ok {
		target = len(rows[0])
		cell, _ := excelize.CoordinatesToCellName(target+1, 1)
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return 0, errors.Wrapf(err, "failed to add column %s", col)
		}
	}
	updated := 0
	for i := 1; i < len(rows); i++ {
		if idIdx >= len(rows[i]) {
			continue
		}
		v, ok := values[strings.TrimSpace(rows[i][idIdx])]
		if !ok {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(target+1, i+1)
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return 0, errors.Wrapf(err, "failed to set %s", cell)
		}
		updated++
	}
	if err := f.Save(); err != nil {
		return 0, errors.Wrapf(err, "failed to save %s", path)
	}
	return updated, nil
}
