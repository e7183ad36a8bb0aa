package handler

import (
	"net/http"
)

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// System endpoints
	mux.HandleFunc("/health", h.HandleHealthCheck)

	// API endpoints
	mux.HandleFunc("/api/getattr", h.HandleGetAttr)
	mux.HandleFunc("/api/readdir", h.HandleReadDir)
	mux.HandleFunc("/api/create", h.HandleCreate)
	mux.HandleFunc("/api/mkdir", h.HandleMkdir)
	mux.HandleFunc("/api/rmdir", h.HandleRmdir)
	mux.HandleFunc("/api/remove", h.HandleRemove)
	mux.HandleFunc("/api/rename", h.HandleRename)
	mux.HandleFunc("/api/write", h.HandleWrite)
	mux.HandleFunc("/api/read", h.HandleRead)
	mux.HandleFunc("/api/utimens", h.HandleUtimens)
}
