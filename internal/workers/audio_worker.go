package workers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/speaktest/internal/models"
	"github.com/yoockh/speaktest/internal/providers/stt"
	"github.com/yoockh/speaktest/internal/services"
	"github.com/yoockh/speaktest/internal/utils"
)

// AudioWorkerPool consumes uploaded audio chunks from a redis stream,
// transcribes them and appends the result to the session transcript.
type AudioWorkerPool struct {
	Redis      *redis.Client
	Audio      services.AudioService
	Sessions   services.TestSessionService
	Events     services.EventPublisher
	STT        stt.Provider
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	JobTimeout     time.Duration
}

func (p *AudioWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Audio == nil || p.Sessions == nil || p.STT == nil {
		return errors.New("AudioWorkerPool missing dependency: Redis/Audio/Sessions/STT must be set")
	}
	p.defaults()

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	p.Logger.WithFields(logrus.Fields{"stream": p.Stream, "group": p.Group, "workers": p.NumWorkers}).Info("audio workers started")
	return nil
}

func (p *AudioWorkerPool) defaults() {
	if p.Stream == "" {
		p.Stream = "audio:stream"
	}
	if p.Group == "" {
		p.Group = "stt-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 4
	}
	if p.JobTimeout <= 0 {
		p.JobTimeout = 60 * time.Second
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
}

func (p *AudioWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *AudioWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	job, ok := services.ParseAudioJob(msg.Values)
	if !ok {
		p.Logger.WithField("redis_id", msg.ID).Warn("dropping malformed audio job")
		return
	}
	jctx, cancel := context.WithTimeout(ctx, p.JobTimeout)
	defer cancel()
	_ = p.HandleJob(jctx, job)
}

// HandleJob transcribes one chunk. Failures are recorded on the chunk and
// announced on the session channel; the returned error is for callers that care.
func (p *AudioWorkerPool) HandleJob(ctx context.Context, job services.AudioJob) error {
	log := p.Logger.WithFields(logrus.Fields{
		"session_id":  job.SessionID,
		"chunk_index": job.ChunkIndex,
	})

	fail := func(msg string, err error) error {
		log.WithError(err).Warn(msg)
		_ = p.Audio.MarkSTT(ctx, job.SessionID, job.ChunkIndex, "", 0, services.STTFailed)
		p.status(ctx, job, services.STTFailed, msg)
		return err
	}

	audio, err := p.Audio.Fetch(ctx, job.ObjectName)
	if err != nil {
		return fail("failed to fetch audio", err)
	}

	_ = p.Audio.MarkSTT(ctx, job.SessionID, job.ChunkIndex, "", 0, services.STTProcessing)
	p.status(ctx, job, services.STTProcessing, "stt processing")

	text, conf, err := p.STT.Transcribe(ctx, audio, job.MimeType, stt.NormalizeLanguage(job.LanguageCode))
	if err != nil {
		return fail("stt failed", err)
	}

	_ = p.Audio.MarkSTT(ctx, job.SessionID, job.ChunkIndex, text, conf, services.STTDone)
	if p.Events != nil {
		_ = p.Events.PublishResponse(ctx, job.SessionID, map[string]any{
			"type":        "stt_result",
			"chunk_index": job.ChunkIndex,
			"text":        text,
			"confidence":  conf,
			"is_final":    true,
		})
	}

	if text == "" {
		p.status(ctx, job, services.STTDone, "no speech detected")
		return nil
	}

	spokenAt := job.UploadedAt
	if spokenAt.IsZero() {
		spokenAt = time.Now().UTC()
	}
	err = p.Sessions.AppendTurns(ctx, job.SessionID, []models.ConversationTurn{{
		Role:       models.RoleSpeaker,
		Content:    text,
		Transcript: text,
		Timestamp:  spokenAt,
	}})
	if utils.IsCode(err, utils.CodeConflict) {
		log.Info("session finished before chunk was transcribed")
		p.status(ctx, job, services.STTDone, "session already finished")
		return nil
	}
	if err != nil {
		return fail("failed to append transcript", err)
	}

	p.status(ctx, job, services.STTDone, "chunk processed")
	return nil
}

func (p *AudioWorkerPool) status(ctx context.Context, job services.AudioJob, status, msg string) {
	if p.Events == nil {
		return
	}
	_ = p.Events.PublishStatus(ctx, job.SessionID, services.StatusEvent{
		Status:     status,
		Message:    msg,
		ChunkIndex: job.ChunkIndex,
	})
}
