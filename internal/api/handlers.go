// Package api exposes the page service's HTTP surface: point and batch
// page reads, WAL ingest, time-travel reads, relation size queries and
// snapshot management, routed with chi and gated by the page server's
// auth middleware.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/linux/projects/server/page-server/internal/keycodec"
	"github.com/linux/projects/server/page-server/internal/server"
	"github.com/linux/projects/server/page-server/internal/timeline"
	"github.com/linux/projects/server/page-server/internal/walingest"
	"github.com/linux/projects/server/page-server/pkg/types"
)

const maxBatchPages = 1000

// Handlers binds the HTTP handlers to one PageServer instance.
type Handlers struct {
	ps *server.PageServer
}

// NewRouter builds the chi router exposing the page service's API
// surface over ps.
func NewRouter(ps *server.PageServer) chi.Router {
	h := &Handlers{ps: ps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/api/v1/ping", h.handlePing)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ps.Auth.Handler)

		r.Post("/get_page", h.handleGetPage)
		r.Post("/get_pages", h.handleGetPages)
		r.Post("/get_relsize", h.handleGetRelSize)
		r.Post("/stream_wal", h.handleStreamWAL)
		r.Get("/metrics", h.handleMetrics)
		r.Post("/time_travel", h.handleTimeTravel)

		r.Post("/snapshots/create", h.handleCreateSnapshot)
		r.Get("/snapshots/list", h.handleListSnapshots)
		r.Get("/snapshots/get", h.handleGetSnapshot)
		r.Post("/snapshots/restore", h.handleRestoreSnapshot)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func blockTag(a types.BlockAddr) keycodec.BufferTag {
	return keycodec.BufferTag{
		Rel: keycodec.RelTag{
			Fork:       a.Fork,
			Tablespace: a.Tablespace,
			Database:   a.Database,
			Relation:   a.Relation,
		},
		Block: a.Block,
	}
}

// fetchPage serves tag@lsn from the two-tier cache, falling back to
// Timeline.GetPageAtLSN and populating both tiers on a miss.
func fetchPage(ctx context.Context, tl *timeline.Timeline, pc interface {
	Get(keycodec.BufferTag, keycodec.Lsn) ([]byte, bool)
	Put(keycodec.BufferTag, keycodec.Lsn, []byte)
}, lfc interface {
	Get(keycodec.BufferTag, keycodec.Lsn) ([]byte, bool)
	Put(keycodec.BufferTag, keycodec.Lsn, []byte)
}, tag keycodec.BufferTag, lsn keycodec.Lsn) ([]byte, error) {
	if data, ok := pc.Get(tag, lsn); ok {
		return data, nil
	}
	if data, ok := lfc.Get(tag, lsn); ok {
		pc.Put(tag, lsn, data)
		return data, nil
	}

	data, err := tl.GetPageAtLSN(ctx, tag, lsn)
	if err != nil {
		return nil, err
	}
	pc.Put(tag, lsn, data)
	lfc.Put(tag, lsn, data)
	return data, nil
}

func (h *Handlers) handleGetPage(w http.ResponseWriter, r *http.Request) {
	var req types.GetPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.ps.WaitLSNTimeout)
	defer cancel()

	tag := blockTag(req.BlockAddr)
	lsn := keycodec.Lsn(req.LSN)
	data, err := fetchPage(ctx, h.ps.Timeline, h.ps.Cache, h.ps.LFC, tag, lsn)
	if err != nil {
		writeJSON(w, http.StatusNotFound, types.GetPageResponse{
			Status: "error",
			Error:  fmt.Sprintf("page not found: %s at lsn=%d: %v", tag, req.LSN, err),
		})
		return
	}

	writeJSON(w, http.StatusOK, types.GetPageResponse{
		Status:   "success",
		PageData: base64.StdEncoding.EncodeToString(data),
		PageLSN:  req.LSN,
	})
}

func (h *Handlers) handleGetPages(w http.ResponseWriter, r *http.Request) {
	var req types.GetPagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Pages) == 0 {
		http.Error(w, "no pages requested", http.StatusBadRequest)
		return
	}
	if len(req.Pages) > maxBatchPages {
		http.Error(w, fmt.Sprintf("too many pages requested (max %d)", maxBatchPages), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.ps.WaitLSNTimeout)
	defer cancel()

	responses := make([]types.PageResponse, len(req.Pages))
	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	for i, pr := range req.Pages {
		wg.Add(1)
		go func(idx int, pr types.PageRequest) {
			defer wg.Done()

			tag := blockTag(pr.BlockAddr)
			lsn := keycodec.Lsn(pr.LSN)
			data, err := fetchPage(ctx, h.ps.Timeline, h.ps.Cache, h.ps.LFC, tag, lsn)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				responses[idx] = types.PageResponse{
					BlockAddr: pr.BlockAddr,
					Status:    "error",
					Error:     fmt.Sprintf("page not found: %s at lsn=%d", tag, pr.LSN),
				}
				return
			}
			responses[idx] = types.PageResponse{
				BlockAddr: pr.BlockAddr,
				Status:    "success",
				PageData:  base64.StdEncoding.EncodeToString(data),
				PageLSN:   pr.LSN,
			}
			successCount++
		}(i, pr)
	}
	wg.Wait()

	overallStatus := "success"
	if successCount < len(req.Pages) {
		overallStatus = "partial"
	}

	writeJSON(w, http.StatusOK, types.GetPagesResponse{Pages: responses, Status: overallStatus})
	log.Printf("Batch request: %d pages requested, %d successful", len(req.Pages), successCount)
}

func (h *Handlers) handleGetRelSize(w http.ResponseWriter, r *http.Request) {
	var req types.RelSizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.ps.WaitLSNTimeout)
	defer cancel()

	rel := keycodec.RelTag{Fork: req.Fork, Tablespace: req.Tablespace, Database: req.Database, Relation: req.Relation}
	size, err := h.ps.Timeline.GetRelSize(ctx, rel, keycodec.Lsn(req.LSN))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, types.RelSizeResponse{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, types.RelSizeResponse{Status: "success", Size: size})
}

func (h *Handlers) handleStreamWAL(w http.ResponseWriter, r *http.Request) {
	var req types.StreamWALRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	walData, err := base64.StdEncoding.DecodeString(req.WALData)
	if err != nil {
		http.Error(w, "invalid base64 WAL data", http.StatusBadRequest)
		return
	}

	decoded := &walingest.DecodedRecord{
		LSN:            keycodec.Lsn(req.LSN),
		XlRmid:         req.XlRmid,
		XlInfo:         req.XlInfo,
		MainDataOffset: req.MainDataOffset,
		Blocks:         make([]walingest.BlockEffect, len(req.Blocks)),
	}
	for i, b := range req.Blocks {
		decoded.Blocks[i] = walingest.BlockEffect{
			Tag:        blockTag(b.BlockAddr),
			WillInit:   b.WillInit,
			ApplyImage: b.ApplyImage,
			WillDrop:   b.WillDrop,
		}
	}
	if req.SmgrTruncate != nil {
		decoded.SmgrTruncate = &walingest.SmgrTruncatePayload{
			Tablespace: req.SmgrTruncate.Tablespace,
			Database:   req.SmgrTruncate.Database,
			Relation:   req.SmgrTruncate.Relation,
			Flags:      req.SmgrTruncate.Flags,
			NewBlocks:  req.SmgrTruncate.NewBlocks,
		}
	}
	if req.DbaseCreate != nil {
		decoded.DbaseCreate = &walingest.DbaseCreatePayload{
			Database:      req.DbaseCreate.Database,
			Tablespace:    req.DbaseCreate.Tablespace,
			SrcDatabase:   req.DbaseCreate.SrcDatabase,
			SrcTablespace: req.DbaseCreate.SrcTablespace,
		}
	}

	if err := walingest.Ingest(r.Context(), h.ps.Timeline, decoded, walData); err != nil {
		log.Printf("Error ingesting WAL record at lsn=%d: %v", req.LSN, err)
		writeJSON(w, http.StatusInternalServerError, types.StreamWALResponse{
			Status: "error",
			Error:  fmt.Sprintf("failed to ingest WAL record: %v", err),
		})
		return
	}
	h.ps.Timeline.Frontier().AdvanceLastValidLsn(keycodec.Lsn(req.LSN))
	if err := h.ps.Repo.PersistMeta(h.ps.Timeline); err != nil {
		log.Printf("Warning: failed to persist timeline metadata: %v", err)
	}

	log.Printf("Ingested WAL record: lsn=%d blocks=%d", req.LSN, len(decoded.Blocks))
	writeJSON(w, http.StatusOK, types.StreamWALResponse{Status: "success", LastAppliedLSN: req.LSN})
}

func (h *Handlers) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.PingResponse{Status: "ok", Version: "1.0.0"})
}

func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := map[string]interface{}{
		"cache": h.ps.Cache.Stats(),
		"lfc":   h.ps.LFC.Stats(),
		"timeline": map[string]interface{}{
			"id":              h.ps.Timeline.ID().String(),
			"last_valid_lsn":  uint64(h.ps.Timeline.Frontier().GetLastValidLsn()),
			"last_record_lsn": uint64(h.ps.Timeline.Frontier().GetLastRecordLsn()),
		},
	}
	if h.ps.Remote != nil {
		metrics["remote_storage"] = "configured"
	}

	writeJSON(w, http.StatusOK, metrics)
}

func (h *Handlers) handleTimeTravel(w http.ResponseWriter, r *http.Request) {
	var req types.TimeTravelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.ps.WaitLSNTimeout)
	defer cancel()

	tag := blockTag(req.BlockAddr)
	lsn := keycodec.Lsn(req.LSN)
	data, err := h.ps.Timeline.GetPageAtLSN(ctx, tag, lsn)
	if err != nil {
		writeJSON(w, http.StatusNotFound, types.GetPageResponse{
			Status: "error",
			Error:  fmt.Sprintf("page not found at lsn %d: %s: %v", req.LSN, tag, err),
		})
		return
	}

	writeJSON(w, http.StatusOK, types.GetPageResponse{
		Status:   "success",
		PageData: base64.StdEncoding.EncodeToString(data),
		PageLSN:  req.LSN,
	})
	log.Printf("Time-travel query: %s requested_lsn=%d", tag, req.LSN)
}

func (h *Handlers) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	lsn := keycodec.Lsn(req.LSN)
	if lsn == keycodec.InvalidLsn {
		lsn = h.ps.Timeline.Frontier().GetLastValidLsn()
	}

	snapshot, err := h.ps.Snapshots.CreateSnapshot(lsn, req.Description)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, types.CreateSnapshotResponse{
			Status: "error",
			Error:  fmt.Sprintf("failed to create snapshot: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, types.CreateSnapshotResponse{Status: "success", Snapshot: snapshot})
	log.Printf("Snapshot created: id=%s lsn=%d description=%s", snapshot.ID, snapshot.LSN, snapshot.Description)
}

func (h *Handlers) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ListSnapshotsResponse{
		Status:    "success",
		Snapshots: h.ps.Snapshots.ListSnapshots(),
	})
}

func (h *Handlers) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing snapshot id", http.StatusBadRequest)
		return
	}

	snapshot, err := h.ps.Snapshots.GetSnapshot(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, types.CreateSnapshotResponse{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, types.CreateSnapshotResponse{Status: "success", Snapshot: snapshot})
}

func (h *Handlers) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	var req types.RestoreSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	snapshot, err := h.ps.Snapshots.GetSnapshot(req.SnapshotID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"message":  "Snapshot resolved. Use time-travel queries with lsn to read pages as of this point in time.",
		"snapshot": snapshot,
		"usage": map[string]interface{}{
			"lsn": snapshot.LSN,
		},
	})
	log.Printf("Snapshot restore requested: id=%s lsn=%d", snapshot.ID, snapshot.LSN)
}
