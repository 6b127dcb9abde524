package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/speaktest/internal/cache"
	"github.com/yoockh/speaktest/internal/models"
	mongorepo "github.com/yoockh/speaktest/internal/repositories/mongo"
	"github.com/yoockh/speaktest/internal/utils"
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 50
)

type HistoryPage struct {
	Records []models.TestReportSummary `json:"records"`
	Total   int64                      `json:"total"`
	Limit   int                        `json:"limit"`
	Offset  int                        `json:"offset"`
	HasMore bool                       `json:"hasMore"`
}

type HistoryService interface {
	List(ctx context.Context, userID string, limit, offset int) (*HistoryPage, error)
	Invalidate(ctx context.Context, userID string) error
}

type historyService struct {
	sessions mongorepo.TestSessionRepository
	cache    cache.Cache
	ttl      time.Duration
	log      *logrus.Logger
}

// NewHistoryService builds the history reader. c may be nil to disable caching.
func NewHistoryService(sessions mongorepo.TestSessionRepository, c cache.Cache, ttl time.Duration, log *logrus.Logger) HistoryService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &historyService{sessions: sessions, cache: c, ttl: ttl, log: log}
}

func historyKey(userID string, limit, offset int) string {
	return fmt.Sprintf("history:%s:%d:%d", userID, limit, offset)
}

func (s *historyService) List(ctx context.Context, userID string, limit, offset int) (*HistoryPage, error) {
	const op = "HistoryService.List"

	if strings.TrimSpace(userID) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if offset < 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "offset must be >= 0", nil)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	key := historyKey(userID, limit, offset)
	if s.cache != nil {
		var cached HistoryPage
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.log.WithError(err).WithField("op", op).Warn("history cache read failed")
		}
		if hit {
			return &cached, nil
		}
	}

	rows, total, err := s.sessions.ListCompletedByUser(ctx, userID, int64(limit), int64(offset))
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load test history", err)
	}

	page := &HistoryPage{
		Records: lo.Map(rows, func(sess models.TestSession, _ int) models.TestReportSummary {
			return sess.Summary()
		}),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	page.HasMore = int64(offset+len(page.Records)) < total

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, page, s.ttl); err != nil {
			s.log.WithError(err).WithField("op", op).Warn("history cache write failed")
		}
	}
	return page, nil
}

func (s *historyService) Invalidate(ctx context.Context, userID string) error {
	if s.cache == nil || userID == "" {
		return nil
	}
	return s.cache.DelPattern(ctx, "history:"+userID+":*")
}
