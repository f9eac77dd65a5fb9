package api

import (
	"net/http"
	"strings"

	"github.com/gsakit-io/gsakit/internal/catalog"
)

// handleMethods serves the compiled analysis method catalog.
func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, catalog.Methods())
}

// handleTypes serves the supported expression data types.
func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, catalog.DataTypes())
}

// handleDataSources serves the external datasource descriptors.
func (s *Server) handleDataSources(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.datasources)
}

// handleDataExamples serves the curated example dataset descriptions.
func (s *Server) handleDataExamples(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.examples)
}

// handleDataSearch answers ranked dataset searches against the in-memory
// index built at boot.
func (s *Server) handleDataSearch(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Dataset search is not available"))
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Missing query parameter"))
		return
	}

	species := strings.TrimSpace(r.URL.Query().Get("species"))

	s.writeJSON(w, r, s.index.Search(query, species))
}
