package services

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yoockh/speaktest/internal/models"
	mongorepo "github.com/yoockh/speaktest/internal/repositories/mongo"
	"github.com/yoockh/speaktest/internal/storage"
	"github.com/yoockh/speaktest/internal/utils"
)

const MaxAudioBytes = 10 << 20

const (
	STTPending    = "pending"
	STTProcessing = "processing"
	STTDone       = "done"
	STTFailed     = "failed"
)

// AudioJob is one stream entry asking a worker to transcribe an uploaded chunk.
type AudioJob struct {
	SessionID    string
	ChunkIndex   int64
	ObjectName   string
	MimeType     string
	LanguageCode string
	// UploadedAt becomes the timestamp of the transcribed turn.
	UploadedAt time.Time
}

func (j AudioJob) Values() map[string]any {
	v := map[string]any{
		"session_id":    j.SessionID,
		"chunk_index":   strconv.FormatInt(j.ChunkIndex, 10),
		"object_name":   j.ObjectName,
		"mime_type":     j.MimeType,
		"language_code": j.LanguageCode,
	}
	if !j.UploadedAt.IsZero() {
		v["uploaded_at"] = strconv.FormatInt(j.UploadedAt.UnixNano(), 10)
	}
	return v
}

// ParseAudioJob reads a stream entry back. ok is false when the entry is unusable.
func ParseAudioJob(values map[string]any) (job AudioJob, ok bool) {
	get := func(k string) string {
		s, _ := values[k].(string)
		return s
	}
	job = AudioJob{
		SessionID:    get("session_id"),
		ObjectName:   get("object_name"),
		MimeType:     get("mime_type"),
		LanguageCode: get("language_code"),
	}
	idx, err := strconv.ParseInt(get("chunk_index"), 10, 64)
	if err != nil || idx <= 0 || job.SessionID == "" || job.ObjectName == "" {
		return AudioJob{}, false
	}
	job.ChunkIndex = idx
	if ns, err := strconv.ParseInt(get("uploaded_at"), 10, 64); err == nil && ns > 0 {
		job.UploadedAt = time.Unix(0, ns).UTC()
	}
	return job, true
}

type AudioQueue interface {
	Enqueue(ctx context.Context, job AudioJob) error
}

type redisAudioQueue struct {
	rdb    *redis.Client
	stream string
}

func NewRedisAudioQueue(rdb *redis.Client, stream string) AudioQueue {
	if stream == "" {
		stream = "audio:stream"
	}
	return &redisAudioQueue{rdb: rdb, stream: stream}
}

func (q *redisAudioQueue) Enqueue(ctx context.Context, job AudioJob) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: job.Values(),
	}).Err()
}

type AudioStore interface {
	storage.Uploader
	storage.Opener
}

type AudioService interface {
	// Submit stores an uploaded chunk and queues it for transcription.
	Submit(ctx context.Context, sess *models.TestSession, mimeType string, r io.Reader) (*models.AudioChunk, error)
	Fetch(ctx context.Context, objectName string) ([]byte, error)
	MarkSTT(ctx context.Context, sessionID string, chunkIndex int64, transcript string, confidence float64, status string) error
	ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.AudioChunk, error)
}

type audioService struct {
	chunks mongorepo.AudioChunkRepository
	store  AudioStore
	queue  AudioQueue
	ttl    time.Duration
}

func NewAudioService(chunks mongorepo.AudioChunkRepository, store AudioStore, queue AudioQueue, ttl time.Duration) AudioService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &audioService{chunks: chunks, store: store, queue: queue, ttl: ttl}
}

var audioExtensions = map[string]string{
	"audio/webm":  "webm",
	"audio/ogg":   "ogg",
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
	"audio/wave":  "wav",
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/flac":  "flac",
	"audio/mp4":   "m4a",
	"audio/aac":   "aac",
}

// AudioExtension maps a mime type (parameters ignored) to a file extension.
func AudioExtension(mimeType string) (string, bool) {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	ext, ok := audioExtensions[base]
	return ext, ok
}

func (s *audioService) Submit(ctx context.Context, sess *models.TestSession, mimeType string, r io.Reader) (*models.AudioChunk, error) {
	const op = "AudioService.Submit"

	if sess == nil || sess.SessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session is required", nil)
	}
	if sess.Status.Terminal() {
		return nil, utils.E(utils.CodeConflict, op, "test session is already "+string(sess.Status), nil)
	}
	ext, ok := AudioExtension(mimeType)
	if !ok {
		return nil, utils.E(utils.CodeInvalidArgument, op, "unsupported audio type", nil)
	}

	received := time.Now().UTC()
	idx, err := s.chunks.NextIndex(ctx, sess.SessionID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to allocate chunk index", err)
	}
	objectName := "audio/" + sess.UserID + "/" + sess.SessionID + "/" + strconv.FormatInt(idx, 10) + "." + ext

	if _, err := s.store.Upload(ctx, objectName, mimeType, r); err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to store audio", err)
	}

	chunk := &models.AudioChunk{
		SessionID:  sess.SessionID,
		ChunkIndex: idx,
		ObjectName: objectName,
		MimeType:   mimeType,
		STTStatus:  STTPending,
		Timestamp:  received,
		ExpiresAt:  received.Add(s.ttl),
	}
	if err := s.chunks.Insert(ctx, chunk); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to record audio chunk", err)
	}

	err = s.queue.Enqueue(ctx, AudioJob{
		SessionID:    sess.SessionID,
		ChunkIndex:   idx,
		ObjectName:   objectName,
		MimeType:     mimeType,
		LanguageCode: sess.Config.LanguageCode,
		UploadedAt:   received,
	})
	if err != nil {
		_ = s.chunks.UpdateSTT(ctx, sess.SessionID, idx, "", 0, STTFailed)
		return nil, utils.E(utils.CodeUnavailable, op, "failed to queue audio for transcription", err)
	}
	return chunk, nil
}

func (s *audioService) Fetch(ctx context.Context, objectName string) ([]byte, error) {
	const op = "AudioService.Fetch"

	rc, err := s.store.Open(ctx, objectName)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to open audio object", err)
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, MaxAudioBytes))
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to read audio object", err)
	}
	if len(b) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "audio object is empty", nil)
	}
	return b, nil
}

func (s *audioService) MarkSTT(ctx context.Context, sessionID string, chunkIndex int64, transcript string, confidence float64, status string) error {
	const op = "AudioService.MarkSTT"

	if sessionID == "" || chunkIndex <= 0 || status == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id, chunk_index (>0), and status are required", nil)
	}
	if err := s.chunks.UpdateSTT(ctx, sessionID, chunkIndex, transcript, confidence, status); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to update stt fields", err)
	}
	return nil
}

func (s *audioService) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.AudioChunk, error) {
	const op = "AudioService.ListBySession"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	out, err := s.chunks.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list audio chunks", err)
	}
	return out, nil
}
