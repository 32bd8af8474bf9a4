package main

import (
	"net/http"

	"github.com/oszuidwest/gunshot-logger/internal/audio"
	"github.com/oszuidwest/gunshot-logger/internal/eventlog"
	"github.com/oszuidwest/gunshot-logger/internal/server"
)

const defaultEventLimit = 50

// eventsResponse is a page of the event log, newest first.
type eventsResponse struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

// handleAPIStatus returns the pipeline status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	server.WriteJSON(w, http.StatusOK, s.status())
}

// handleAPIEvents returns recent capture and service events.
// GET /api/events?limit=50&offset=0&type=capture
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if s.eventsPath == "" {
		server.WriteError(w, http.StatusNotFound, "Event log is disabled")
		return
	}

	limit, ok := server.QueryInt(r, "limit", defaultEventLimit)
	if !ok {
		server.WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, ok := server.QueryInt(r, "offset", 0)
	if !ok {
		server.WriteError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	filter := eventlog.TypeFilter(r.URL.Query().Get("type"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterService, eventlog.FilterCapture, eventlog.FilterUpload:
	default:
		server.WriteError(w, http.StatusBadRequest, "type must be one of: service, capture, upload")
		return
	}

	events, more, err := eventlog.ReadLast(s.eventsPath, limit, offset, filter)
	if err != nil {
		s.logger.Error("failed to read event log", "error", err)
		server.WriteError(w, http.StatusInternalServerError, "Failed to read event log")
		return
	}
	server.WriteJSON(w, http.StatusOK, eventsResponse{Events: events, HasMore: more})
}

// handleAPIDevices lists audio capture devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := audio.ListDevices()
	if err != nil {
		server.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	server.WriteJSON(w, http.StatusOK, devices)
}
