package mailbox

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/protocol"
	"go.uber.org/zap"
)

// Mailbox holds the messages of one source, grouped by conversation. It is
// safe for concurrent use. Accessors return copies.
type Mailbox struct {
	src Source
	log *zap.Logger

	mu        sync.RWMutex
	emails    map[string]*Email
	threads   map[string][]*Email
	order     []string
	processed map[string]bool
}

// New creates a mailbox over src. Call Refresh to load it.
func New(src Source, logger *zap.Logger) *Mailbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailbox{
		src:       src,
		log:       logger,
		emails:    map[string]*Email{},
		threads:   map[string][]*Email{},
		processed: map[string]bool{},
	}
}

// Open creates and loads a mailbox.
func Open(ctx context.Context, src Source, logger *zap.Logger) (*Mailbox, error) {
	m := New(src, logger)
	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Source returns the underlying source.
func (m *Mailbox) Source() Source { return m.src }

// Refresh reloads the source. Processed marks survive a refresh.
func (m *Mailbox) Refresh(ctx context.Context) error {
	loaded, err := m.src.Load(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to load emails from %s", m.src.Name())
	}

	emails := make(map[string]*Email, len(loaded))
	threads := map[string][]*Email{}
	for _, e := range loaded {
		if _, dup := emails[e.ID]; dup {
			m.log.Warn("duplicate email id, keeping first", zap.String("email_id", e.ID))
			continue
		}
		emails[e.ID] = e
		threads[e.ConversationID] = append(threads[e.ConversationID], e)
	}
	order := make([]string, 0, len(threads))
	for id, msgs := range threads {
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := threads[order[i]][0].Timestamp, threads[order[j]][0].Timestamp
		if !a.Equal(b) {
			return a.Before(b)
		}
		return order[i] < order[j]
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.processed {
		msgs, ok := threads[id]
		if !ok {
			continue
		}
		for _, e := range msgs {
			e.Status = Processed
		}
	}
	m.emails, m.threads, m.order = emails, threads, order
	m.log.Info("mailbox loaded",
		zap.String("source", m.src.Name()),
		zap.Int("emails", len(emails)),
		zap.Int("conversations", len(order)))
	return nil
}

func (m *Mailbox) summary(id string) Conversation {
	msgs := m.threads[id]
	first, last := msgs[0], msgs[len(msgs)-1]
	c := Conversation{
		ID:      id,
		Subject: first.Subject,
		Sender:  first.Sender,
		FirstAt: first.Timestamp,
		LastAt:  last.Timestamp,
		Count:   len(msgs),
		Status:  Processed,
	}
	for _, e := range msgs {
		if e.Status != Processed {
			c.Status = Pending
			break
		}
	}
	return c
}

// Conversations returns one summary per conversation, oldest first.
func (m *Mailbox) Conversations() []Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Conversation, len(m.order))
	for i, id := range m.order {
		out[i] = m.summary(id)
	}
	return out
}

// Conversation returns the messages of a conversation ordered by timestamp.
func (m *Mailbox) Conversation(id string) ([]Email, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs, ok := m.threads[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "conversation %s", id)
	}
	out := make([]Email, len(msgs))
	for i, e := range msgs {
		out[i] = *e
	}
	return out, nil
}

// Summary returns the summary of one conversation.
func (m *Mailbox) Summary(id string) (Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.threads[id]; !ok {
		return Conversation{}, errors.Wrapf(errors.ErrNotFound, "conversation %s", id)
	}
	return m.summary(id), nil
}

func (m *Mailbox) Email(id string) (Email, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.emails[id]
	if !ok {
		return Email{}, errors.Wrapf(errors.ErrNotFound, "email %s", id)
	}
	return *e, nil
}

// MarkProcessed flags every message of a conversation as processed.
func (m *Mailbox) MarkProcessed(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.threads[conversationID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "conversation %s", conversationID)
	}
	for _, e := range msgs {
		e.Status = Processed
	}
	m.processed[conversationID] = true
	return nil
}

// PageInfo describes one page of conversations.
type PageInfo struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_previous"`
}

// Page returns page n (1-based) of Conversations.
func (m *Mailbox) Page(n, size int) ([]Conversation, PageInfo, error) {
	if n < 1 {
		return nil, PageInfo{}, errors.Wrapf(errors.ErrInvalid, "page number must be >= 1")
	}
	if size < 1 {
		return nil, PageInfo{}, errors.Wrapf(errors.ErrInvalid, "page size must be >= 1")
	}
	all := m.Conversations()
	info := PageInfo{Page: n, PageSize: size, Total: len(all)}
	info.TotalPages = (len(all) + size - 1) / size
	if info.TotalPages > 0 && n > info.TotalPages {
		return nil, info, errors.Wrapf(errors.ErrInvalid, "page %d does not exist, total pages: %d", n, info.TotalPages)
	}
	info.HasNext = n < info.TotalPages
	info.HasPrev = n > 1
	start := (n - 1) * size
	if start >= len(all) {
		return nil, info, nil
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], info, nil
}

// Search returns the messages whose sender, recipient, subject or content
// contains q, case-insensitively, in conversation order.
func (m *Mailbox) Search(q string) ([]Email, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil, errors.Wrapf(errors.ErrInvalid, "search term must not be empty")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Email
	for _, id := range m.order {
		for _, e := range m.threads[id] {
			for _, f := range []string{e.Sender, e.Recipient, e.Subject, e.Content} {
				if strings.Contains(strings.ToLower(f), q) {
					out = append(out, *e)
					break
				}
			}
		}
	}
	return out, nil
}

type Stats struct {
	TotalEmails        int     `json:"total_emails"`
	Conversations      int     `json:"conversations"`
	UniqueSenders      int     `json:"unique_senders"`
	UniqueRecipients   int     `json:"unique_recipients"`
	AvgPerConversation float64 `json:"avg_emails_per_conversation"`
	MaxPerConversation int     `json:"max_emails_per_conversation"`
	MinPerConversation int     `json:"min_emails_per_conversation"`
	Pending            int     `json:"pending"`
	Processed          int     `json:"processed"`
}

func (m *Mailbox) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{TotalEmails: len(m.emails), Conversations: len(m.order)}
	senders, recipients := map[string]bool{}, map[string]bool{}
	for _, id := range m.order {
		msgs := m.threads[id]
		if n := len(msgs); s.MinPerConversation == 0 || n < s.MinPerConversation {
			s.MinPerConversation = n
		}
		if n := len(msgs); n > s.MaxPerConversation {
			s.MaxPerConversation = n
		}
		for _, e := range msgs {
			senders[strings.ToLower(e.Sender)] = true
			recipients[strings.ToLower(e.Recipient)] = true
			if e.Status == Processed {
				s.Processed++
			} else {
				s.Pending++
			}
		}
	}
	s.UniqueSenders, s.UniqueRecipients = len(senders), len(recipients)
	if s.Conversations > 0 {
		s.AvgPerConversation = float64(s.TotalEmails) / float64(s.Conversations)
	}
	return s
}

// Inquiry builds the agent request for a conversation: the latest message
// from the customer is the body and every other message is history.
func (m *Mailbox) Inquiry(conversationID string) (protocol.Inquiry, error) {
	msgs, err := m.Conversation(conversationID)
	if err != nil {
		return protocol.Inquiry{}, err
	}
	return InquiryFor(conversationID, msgs), nil
}

// InquiryFor builds an inquiry from messages ordered by timestamp. The
// customer is the sender of the first message.
func InquiryFor(conversationID string, msgs []Email) protocol.Inquiry {
	if len(msgs) == 0 {
		return protocol.Inquiry{ConversationID: conversationID}
	}
	customer := msgs[0].SenderEmail
	body := len(msgs) - 1
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.EqualFold(msgs[i].SenderEmail, customer) {
			body = i
			break
		}
	}
	in := protocol.Inquiry{
		ConversationID: conversationID,
		CustomerEmail:  customer,
		Subject:        msgs[body].Subject,
		Body:           msgs[body].Content,
	}
	if in.Subject == "No Subject" || strings.Contains(in.Body, in.Subject) {
		in.Subject = ""
	}
	for i, e := range msgs {
		if i == body {
			continue
		}
		in.History = append(in.History, protocol.Turn{From: e.Sender, At: e.Timestamp, Text: e.Content})
	}
	return in
}
