// README: Audit service; history reads and the rider notice channel.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotFound   = errors.New("audit entry not found")
	ErrBadRequest = errors.New("bad request")
)

type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// History returns the change log of one record, newest first.
func (s *Service) History(ctx context.Context, table, recordID string, limit int) ([]Entry, error) {
	if table == "" || recordID == "" {
		return nil, ErrBadRequest
	}
	return s.store.List(ctx, Filter{Table: table, RecordID: recordID, Limit: limit})
}

// NoticeMethods are the channels a rider can report through.
var NoticeMethods = []string{"LLAMADA", "WHATSAPP", "RADIO", "APP"}

func validNoticeMethod(m string) bool {
	for _, known := range NoticeMethods {
		if m == known {
			return true
		}
	}
	return false
}

type NoticeCommand struct {
	DispatchCode string
	Kind         string
	Method       string
	Message      string
	ActorID      *int64
}

// Notify records a rider notice for the operators' feed.
func (s *Service) Notify(ctx context.Context, cmd NoticeCommand) (*Notice, error) {
	code := normalizeCode(cmd.DispatchCode)
	kind := strings.ToUpper(strings.TrimSpace(cmd.Kind))
	method := strings.ToUpper(strings.TrimSpace(cmd.Method))
	message := strings.TrimSpace(cmd.Message)
	if code == "" || kind == "" || message == "" {
		return nil, ErrBadRequest
	}
	if !validNoticeMethod(method) {
		return nil, fmt.Errorf("%w: metodo debe ser uno de %s", ErrBadRequest, strings.Join(NoticeMethods, ", "))
	}
	e := &Entry{
		Table:     TableCommunication,
		RecordID:  code,
		Operation: OpNotice,
		UserID:    cmd.ActorID,
		At:        s.now(),
		New: Snapshot{
			"codigo":   code,
			"tipo_mov": kind,
			"metodo":   method,
			"mensaje":  message,
		},
	}
	if err := s.store.Append(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Info("rider notice recorded",
		zap.String("codigo", code),
		zap.String("tipo_mov", kind),
		zap.Int64("notice_id", e.ID),
	)
	n := noticeFromEntry(*e)
	return &n, nil
}

type NoticeFilter struct {
	Code       string
	Since      time.Time
	UnreadOnly bool
	Limit      int
}

func (s *Service) Notices(ctx context.Context, f NoticeFilter) ([]Notice, error) {
	entries, err := s.store.List(ctx, Filter{
		Table:      TableCommunication,
		Operations: []Operation{OpNotice},
		Since:      f.Since,
	})
	if err != nil {
		return nil, err
	}
	marks, err := s.store.List(ctx, Filter{
		Table:      TableCommunication,
		Operations: []Operation{OpNoticeRead},
	})
	if err != nil {
		return nil, err
	}
	read := make(map[string]bool, len(marks))
	for _, m := range marks {
		read[m.RecordID] = true
	}

	code := normalizeCode(f.Code)
	out := make([]Notice, 0, len(entries))
	for _, e := range entries {
		n := noticeFromEntry(e)
		n.Read = read[strconv.FormatInt(e.ID, 10)]
		if f.UnreadOnly && n.Read {
			continue
		}
		if code != "" && !strings.Contains(n.Code, code) {
			continue
		}
		out = append(out, n)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Service) MarkNoticeRead(ctx context.Context, id int64, actorID *int64) error {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Operation != OpNotice {
		return ErrNotFound
	}
	return s.store.Append(ctx, &Entry{
		Table:     TableCommunication,
		RecordID:  strconv.FormatInt(e.ID, 10),
		Operation: OpNoticeRead,
		UserID:    actorID,
		At:        s.now(),
		New:       Snapshot{"codigo": e.New.String("codigo"), "leido": 1},
	})
}
