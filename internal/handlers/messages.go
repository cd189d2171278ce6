// Package handlers implements the gateway's HTTP surface.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rexl2018/aiapiproxy/internal/apierror"
	"github.com/rexl2018/aiapiproxy/internal/providers"
	"github.com/rexl2018/aiapiproxy/internal/schema"
	"github.com/rexl2018/aiapiproxy/internal/translate"
)

const (
	// eventBuffer bounds the translated-event channel; a slow client
	// suspends the translator, propagating back-pressure upstream.
	eventBuffer = 100

	keepAliveInterval = 15 * time.Second
)

// MessagesHandler serves POST /v1/messages: Anthropic in, Anthropic out,
// with every upstream dialect hidden behind the router.
type MessagesHandler struct {
	logger     *slog.Logger
	router     *providers.Router
	translator *translate.Translator
}

func NewMessagesHandler(logger *slog.Logger, router *providers.Router, translator *translate.Translator) *MessagesHandler {
	return &MessagesHandler{logger: logger, router: router, translator: translator}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req schema.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apierror.InvalidRequest("invalid request body: %v", err))
		return
	}
	if aerr := translate.Validate(&req); aerr != nil {
		writeError(w, h.logger, aerr)
		return
	}

	clientModel := req.Model
	chatReq, err := h.translator.TranslateRequest(&req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if req.Stream {
		h.serveStream(w, r, chatReq, clientModel)
		return
	}
	h.serveComplete(w, r, chatReq, clientModel)
}

func (h *MessagesHandler) serveComplete(w http.ResponseWriter, r *http.Request, chatReq *schema.ChatRequest, clientModel string) {
	chatResp, err := h.router.ChatComplete(r.Context(), chatReq)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp, err := h.translator.TranslateResponse(chatResp, clientModel)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("write response failed", "error", err)
	}
}

func (h *MessagesHandler) serveStream(w http.ResponseWriter, r *http.Request, chatReq *schema.ChatRequest, clientModel string) {
	chunks, err := h.router.ChatStream(r.Context(), chatReq)
	if err != nil {
		// Nothing has been written; a plain HTTP error is still possible.
		writeError(w, h.logger, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, apierror.API("streaming unsupported by connection"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	events := make(chan schema.StreamEvent, eventBuffer)

	go func() {
		defer close(events)
		stream := h.translator.NewStream(clientModel)
		for res := range chunks {
			if res.Err != nil {
				aerr := apierror.From(res.Err)
				h.logger.Error("upstream stream failed", "error", res.Err)
				sendEvent(ctx, events, schema.NewErrorEvent(aerr.Kind, aerr.Message))
				return
			}
			for _, ev := range stream.Translate(res.Chunk) {
				if !sendEvent(ctx, events, ev) {
					return
				}
			}
		}
		// Upstream ended without a finish reason: close out cleanly.
		for _, ev := range stream.Finish() {
			if !sendEvent(ctx, events, ev) {
				return
			}
		}
	}()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	failed := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				if !failed {
					fmt.Fprint(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
				}
				return
			}
			if ev.EventType() == schema.EventError {
				failed = true
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("client disconnected", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func sendEvent(ctx context.Context, ch chan<- schema.StreamEvent, ev schema.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func writeEvent(w http.ResponseWriter, ev schema.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), data)
	return err
}

// writeError sends the Anthropic error envelope with the kind's status.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	aerr := apierror.From(err)
	logger.Warn("request failed", "kind", aerr.Kind, "error", aerr.Message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(aerr.Status())
	if encErr := json.NewEncoder(w).Encode(aerr.Envelope()); encErr != nil {
		logger.Error("write error envelope failed", "error", encErr)
	}
}
