package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"policy-search/internal/app"
	"policy-search/internal/chunker"
	"policy-search/internal/httputil"
	"policy-search/internal/metrics"
	"policy-search/internal/queue"
	"policy-search/internal/vectorstore"
)

// policyInput is one document in a JSON ingest request.
type policyInput struct {
	ID       string             `json:"id,omitempty" validate:"max=128"`
	Content  []vectorstore.Part `json:"content,omitempty"`
	Text     string             `json:"text,omitempty" validate:"required_without=Content,max=100000"`
	Metadata map[string]any     `json:"metadata,omitempty"`
}

type ingestRequest struct {
	Source    string        `json:"source,omitempty" validate:"max=256"`
	Documents []policyInput `json:"documents" validate:"required,min=1,max=500,dive"`
}

func main() {
	deps, err := app.Build("gateway", app.Options{Queue: true})
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	r := httputil.NewRouter(deps.Log)

	r.Post("/api/policies", ingestHandler(deps))
	r.Post("/api/policies/upload", uploadHandler(deps))
	r.Post("/api/query", queryHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps))
	r.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", deps.Config.Port)
	deps.Log.Info("gateway listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		deps.Log.Error("server failed", "err", err)
	}
}

// ingestHandler accepts policy documents as JSON and queues them for indexing.
func ingestHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, deps.Config.MaxUploadSize)).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		var docs []vectorstore.Document
		for _, in := range req.Documents {
			docs = append(docs, splitDocument(vectorstore.Document{
				ID:       in.ID,
				Content:  in.Content,
				Text:     in.Text,
				Metadata: in.Metadata,
			}, req.Source)...)
		}
		enqueueIndex(deps, w, r, req.Source, docs)
	}
}

// uploadHandler accepts a TXT or PDF policy file plus an optional policyType.
func uploadHandler(deps app.Deps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		// Validate file size before parsing
		if r.ContentLength > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		contentType, ok := detectContentType(header.Header.Get("Content-Type"), header.Filename)
		if !ok {
			httputil.Fail(deps.Log, w, "unsupported file type (only PDF and TXT allowed)", nil, http.StatusBadRequest)
			return
		}

		content, err := io.ReadAll(file)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to read file", err, http.StatusInternalServerError)
			return
		}
		text := extractText(deps.Log, header.Filename, contentType, content)
		if strings.TrimSpace(text) == "" {
			httputil.Fail(deps.Log, w, "no text found in file", nil, http.StatusBadRequest)
			return
		}

		metadata := map[string]any{}
		if pt := strings.TrimSpace(r.FormValue(vectorstore.PolicyTypeKey)); pt != "" {
			metadata[vectorstore.PolicyTypeKey] = pt
		}
		docs := splitDocument(vectorstore.Document{Text: text, Metadata: metadata}, header.Filename)
		enqueueIndex(deps, w, r, header.Filename, docs)
	}
}

func enqueueIndex(deps app.Deps, w http.ResponseWriter, r *http.Request, source string, docs []vectorstore.Document) {
	if len(docs) == 0 {
		httputil.Fail(deps.Log, w, "no policy text to index", nil, http.StatusBadRequest)
		return
	}
	// Ids are fixed before the task is queued so a redelivered task upserts
	// the same rows instead of adding copies.
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.New().String()
		}
	}
	body, err := json.Marshal(queue.IndexPayload{
		Collection: deps.Config.CollectionName,
		Source:     source,
		Documents:  docs,
	})
	if err != nil {
		httputil.Fail(deps.Log, w, "marshal payload failed", err, http.StatusInternalServerError)
		return
	}

	task := queue.Task{ID: uuid.New(), Type: queue.TaskTypeIndex, Payload: body}
	log := deps.Log.With("task_id", task.ID, "source", source)
	if err := queue.EnqueueWithRetry(r.Context(), deps.Queue, task, 3, 200*time.Millisecond); err != nil {
		httputil.Fail(log, w, "failed to enqueue policies; please retry", err, http.StatusInternalServerError)
		return
	}
	log.Info("index task queued", "documents", len(docs))

	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
		"task_id":   task.ID.String(),
		"documents": len(docs),
		"status":    "queued",
	})
}

// splitDocument chunks long policies by paragraph. A policy that fits in one
// chunk is kept as is, content parts included.
func splitDocument(doc vectorstore.Document, source string) []vectorstore.Document {
	text := doc.DisplayText()
	if text == vectorstore.NoContent {
		return nil
	}
	chunks := chunker.ChunkParagraphs(text, chunker.Options{})
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) == 1 {
		doc.Metadata = withSource(doc.Metadata, source)
		return []vectorstore.Document{doc}
	}

	docs := make([]vectorstore.Document, len(chunks))
	for i, c := range chunks {
		md := maps.Clone(doc.Metadata)
		if md == nil {
			md = map[string]any{}
		}
		md = withSource(md, source)
		md["chunk"] = c.Index
		docs[i] = vectorstore.Document{Text: c.Text, Metadata: md}
		if doc.ID != "" {
			docs[i].ID = fmt.Sprintf("%s#%d", doc.ID, c.Index)
		}
	}
	return docs
}

func withSource(md map[string]any, source string) map[string]any {
	if source == "" {
		return md
	}
	if md == nil {
		md = map[string]any{}
	}
	if _, ok := md["source"]; !ok {
		md["source"] = source
	}
	return md
}

func detectContentType(contentType, filename string) (string, bool) {
	// If Content-Type is missing, detect from filename
	if contentType == "" || contentType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".txt":
			contentType = "text/plain"
		case ".pdf":
			contentType = "application/pdf"
		default:
			return "", false
		}
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	switch contentType {
	case "text/plain", "application/pdf":
		return contentType, true
	}
	return "", false
}

// queryHandler forwards queries to the flow server.
func queryHandler(deps app.Deps) http.HandlerFunc {
	queryURL := strings.TrimRight(deps.Config.QueryServiceURL, "/") + "/api/query"
	client := &http.Client{Timeout: 60 * time.Second}

	return func(w http.ResponseWriter, r *http.Request) {
		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, queryURL, r.Body)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to create request", err, http.StatusInternalServerError)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			httputil.Fail(deps.Log, w, "query service unavailable", err, http.StatusServiceUnavailable)
			return
		}
		defer resp.Body.Close()

		w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			deps.Log.Error("failed to copy response", "err", err)
		}
	}
}

// extractText returns the text of an uploaded policy. PDFs that fail to parse
// fall back to their raw bytes.
func extractText(log *slog.Logger, filename, contentType string, content []byte) string {
	if contentType != "application/pdf" {
		return string(content)
	}
	text, err := extractPDF(content)
	if err != nil {
		log.Warn("pdf extraction failed, using raw bytes", "err", err, "filename", filename)
		return string(content)
	}
	return text
}

func extractPDF(content []byte) (string, error) {
	pdfReader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var textBuilder strings.Builder
	for pageNum := 1; pageNum <= pdfReader.NumPage(); pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		textBuilder.WriteString(text)
		// Pages are separate paragraphs for chunking.
		textBuilder.WriteString("\n\n")
	}
	return textBuilder.String(), nil
}
