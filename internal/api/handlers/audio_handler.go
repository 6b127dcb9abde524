package handlers

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/speaktest/internal/services"
	"github.com/yoockh/speaktest/internal/utils"
)

type AudioHandler struct {
	sessions services.TestSessionService
	audio    services.AudioService
}

func NewAudioHandler(sessions services.TestSessionService, audio services.AudioService) *AudioHandler {
	return &AudioHandler{sessions: sessions, audio: audio}
}

// sniffed container types that http.DetectContentType reports outside audio/*
var sniffedAudio = map[string]string{
	"video/webm":      "audio/webm",
	"application/ogg": "audio/ogg",
}

// resolveAudioType trusts the sniffed type when it is recognisably audio and
// only falls back to the declared header when sniffing was inconclusive.
func resolveAudioType(declared, sniffed string) (string, bool) {
	sniffed, _, _ = mime.ParseMediaType(sniffed)
	if strings.HasPrefix(sniffed, "audio/") {
		return sniffed, true
	}
	if mapped, ok := sniffedAudio[sniffed]; ok {
		return mapped, true
	}
	if sniffed == "application/octet-stream" || sniffed == "" {
		if d, _, err := mime.ParseMediaType(declared); err == nil && strings.HasPrefix(d, "audio/") {
			return d, true
		}
	}
	return "", false
}

func (h *AudioHandler) Upload(c *gin.Context) {
	const op = "AudioHandler.Upload"

	sess, _, ok := ownedSession(c, h.sessions, op)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing multipart field 'file'", err))
		return
	}
	if fh.Size <= 0 || fh.Size > services.MaxAudioBytes {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "audio must be between 1 byte and 10MB", nil))
		return
	}

	file, err := fh.Open()
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to open upload", err))
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	head = head[:n]

	mimeType, ok := resolveAudioType(fh.Header.Get("Content-Type"), http.DetectContentType(head))
	if !ok {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "file is not a supported audio format", nil))
		return
	}

	chunk, err := h.audio.Submit(c.Request.Context(), sess, mimeType, io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, chunk)
}

func (h *AudioHandler) List(c *gin.Context) {
	sess, _, ok := ownedSession(c, h.sessions, "AudioHandler.List")
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AudioHandler.List", "limit must be an integer", err))
		return
	}
	chunks, err := h.audio.ListBySession(c.Request.Context(), sess.SessionID, int64(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sess.SessionID, "chunks": chunks})
}
