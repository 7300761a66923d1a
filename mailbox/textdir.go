package mailbox

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/m4xw311/mailtriage/errors"
)

// TextDirSource reads one message per .txt file. The file stem is both the
// message and the conversation ID, and the modification time is the
// message timestamp.
type TextDirSource struct {
	Dir string
}

func (s *TextDirSource) Name() string { return s.Dir }

func (s *TextDirSource) Load(ctx context.Context) ([]*Email, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read email directory %s", s.Dir)
	}
	var out []*Email
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			continue
		}
		em, err := parseTextFile(filepath.Join(s.Dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, em)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// headerField matches "Field: value" or "Field：value" at the start of a line.
func headerField(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^[ \t]*` + name + `[ \t]*[:：][ \t]*(.+?)[ \t]*$`)
}

var (
	subjectField = headerField("subject")
	nameField    = headerField("name")
	emailField   = headerField("e-?mail")
	companyField = headerField("company")
	countryField = headerField("country")
)

func field(re *regexp.Regexp, content string) string {
	if m := re.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func parseTextFile(path string) (*Email, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read email %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat email %s", path)
	}
	content := strings.TrimSpace(strings.TrimPrefix(string(raw), "\ufeff"))
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	subject := field(subjectField, content)
	if subject == "" {
		subject = "No Subject"
	}
	addr := FirstAddress(field(emailField, content))
	if addr == "" {
		addr = FirstAddress(content)
	}
	if addr == "" {
		addr = "Unknown"
	}
	name := field(nameField, content)

	return &Email{
		ID:             stem,
		ConversationID: stem,
		Sender:         formatSender(name, addr),
		SenderName:     name,
		SenderEmail:    addr,
		Recipient:      DefaultRecipient,
		Timestamp:      info.ModTime(),
		Subject:        subject,
		Content:        content,
		Company:        field(companyField, content),
		Country:        field(countryField, content),
		Status:         Pending,
		Path:           path,
	}, nil
}
