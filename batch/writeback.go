package batch

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/mailbox"
)

// BackupPath is where WriteCategories copies path first: emails.xlsx
// becomes emails.bak.xlsx.
func BackupPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".bak" + ext
}

// WriteCategories stores the primary category of each completed result in
// the ai-categ column of the spreadsheet at path (xlsx or csv). Every row of
// a conversation gets the same value. An empty sheet means the first one.
// It returns the number of rows updated.
func WriteCategories(path, sheet string, results []Result) (int, error) {
	values := make(map[string]string, len(results))
	for _, r := range results {
		if r.OK() && r.Primary != "" {
			values[r.ConversationID] = string(r.Primary)
		}
	}
	if len(values) == 0 {
		return 0, nil
	}
	if err := copyFile(path, BackupPath(path)); err != nil {
		return 0, err
	}
	return mailbox.WriteColumn(path, sheet, mailbox.ColAICategory, values)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create backup %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "failed to write backup %s", dst)
	}
	return out.Close()
}
